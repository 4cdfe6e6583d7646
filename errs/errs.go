/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package errs

import (
	"io"
	"net"
	"strings"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"
)

// FromResult converts a completion result to an error: nil for non-negative values,
// the negated errno otherwise.
func FromResult(res int32) error {
	if res >= 0 {
		return nil
	}
	return unix.Errno(-res)
}

func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func IsInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// IsClosed reports errors that mean the peer or the local side went away
// rather than something broke.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ENOTCONN) ||
		strings.Contains(err.Error(), "i/o timeout") ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "deadline exceeded") ||
		strings.Contains(err.Error(), "server closed") {
		return true
	}
	return false
}

// IsPeerClosed reports a result that ends a connection without being a failure:
// end of stream or one of the errnos a reset peer produces.
func IsPeerClosed(res int32) bool {
	if res == 0 {
		return true
	}
	return res < 0 && IsClosed(FromResult(res))
}

// IsResourceLimit reports accept failures caused by exhausted descriptors or memory.
// They persist until something is released.
func IsResourceLimit(err error) bool {
	return errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.ENOMEM)
}
