/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package listen

import (
	"fmt"
	"net"
	"os"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echoring/address"
	"go.osspkg.com/echoring/fd"
)

// Listener is a non-blocking TCP listening socket driven by an external event loop.
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

func New(addr string, backlog int) (*Listener, error) {
	if backlog <= 0 {
		return nil, fmt.Errorf("listen backlog must be positive, got %d", backlog)
	}

	sa, family, err := address.Sockaddr(addr)
	if err != nil {
		return nil, err
	}

	sfd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	l := &Listener{fd: sfd}
	if err = l.bind(sa, backlog); err != nil {
		return nil, errors.Wrap(err, unix.Close(sfd))
	}
	return l, nil
}

func (l *Listener) bind(sa unix.Sockaddr, backlog int) error {
	if err := unix.SetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(l.fd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(l.fd, backlog); err != nil {
		return os.NewSyscallError("listen", err)
	}
	local, err := unix.Getsockname(l.fd)
	if err != nil {
		return os.NewSyscallError("getsockname", err)
	}
	l.addr = address.FromSockaddr(local)
	return nil
}

func (l *Listener) FD() int {
	return l.fd
}

func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Accept returns fd.ErrWouldBlock once the accept queue is empty.
func (l *Listener) Accept() (int, net.Addr, error) {
	nfd, sa, err := fd.Accept(l.fd)
	if err != nil {
		return -1, nil, err
	}
	return nfd, address.FromSockaddr(sa), nil
}

func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return os.NewSyscallError("close", err)
}
