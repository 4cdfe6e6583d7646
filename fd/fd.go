/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package fd

import (
	"encoding/binary"
	"os"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echoring/errs"
)

var ErrWouldBlock = errors.New("accept would block")

// Accept takes one pending connection from a non-blocking listener.
// ErrWouldBlock means the accept queue is empty.
func Accept(lfd int) (int, unix.Sockaddr, error) {
	for {
		nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return nfd, sa, nil
		case errs.IsInterrupted(err):
			continue
		case errs.IsWouldBlock(err):
			return -1, nil, ErrWouldBlock
		default:
			return -1, nil, os.NewSyscallError("accept4", err)
		}
	}
}

// Close shuts the socket down in both directions and releases the descriptor.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	err := unix.Shutdown(fd, unix.SHUT_RDWR)
	if err != nil && (errors.Is(err, unix.ENOTCONN) || errors.Is(err, unix.ENOTSOCK)) {
		err = nil
	}
	return errors.Wrap(
		os.NewSyscallError("shutdown", err),
		os.NewSyscallError("close", unix.Close(fd)),
	)
}

func IsOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// Eventfd creates a non-blocking counter used to wake a loop blocked in wait.
func Eventfd() (int, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("eventfd", err)
	}
	return efd, nil
}

func Notify(efd int) error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(efd, b[:]); err != nil && !errs.IsWouldBlock(err) {
		return os.NewSyscallError("eventfd write", err)
	}
	return nil
}

// Consume resets the counter so the descriptor stops polling readable.
func Consume(efd int) (uint64, error) {
	var b [8]byte
	if _, err := unix.Read(efd, b[:]); err != nil {
		if errs.IsWouldBlock(err) {
			return 0, nil
		}
		return 0, os.NewSyscallError("eventfd read", err)
	}
	return binary.NativeEndian.Uint64(b[:]), nil
}
