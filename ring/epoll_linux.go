/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package ring

import (
	"fmt"
	"iter"
	"os"

	"github.com/eapache/queue"
	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echoring/errs"
)

type (
	opKind uint8

	request struct {
		kind opKind
		fd   int
		buf  []byte
		tag  uint64
	}

	// _epoll gives readiness notifications the shape of a completion queue: reads and writes
	// run at Submit, requests that would block are parked on a one-shot registration and
	// retried once the descriptor is ready.
	_epoll struct {
		fd      int
		entries int
		pending []request
		parked  map[int]request
		armed   map[int]struct{}
		events  []unix.EpollEvent
		ready   *queue.Queue
		head    uint32
		tail    uint32
		closed  bool
	}
)

const (
	kindWatch opKind = iota
	kindRead
	kindWrite
)

func newEpoll(entries uint32) (Ring, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &_epoll{
		fd:      fd,
		entries: int(entries),
		pending: make([]request, 0, entries),
		parked:  make(map[int]request, entries),
		armed:   make(map[int]struct{}, entries),
		events:  make([]unix.EpollEvent, entries),
		ready:   queue.New(),
	}, nil
}

func (v *_epoll) Backend() string {
	return BackendEpoll
}

func (v *_epoll) WatchReadable(fd int, tag uint64) error {
	return v.push(request{kind: kindWatch, fd: fd, tag: tag})
}

func (v *_epoll) Read(fd int, b []byte, tag uint64) error {
	if len(b) == 0 {
		return fmt.Errorf("read into empty buffer")
	}
	return v.push(request{kind: kindRead, fd: fd, buf: b, tag: tag})
}

func (v *_epoll) Write(fd int, b []byte, tag uint64) error {
	return v.push(request{kind: kindWrite, fd: fd, buf: b, tag: tag})
}

func (v *_epoll) push(req request) error {
	if v.closed {
		return ErrClosed
	}
	if len(v.pending) >= v.entries {
		if err := v.Submit(); err != nil {
			return err
		}
	}
	v.pending = append(v.pending, req)
	return nil
}

func (v *_epoll) Submit() error {
	if v.closed {
		return ErrClosed
	}
	for i := range v.pending {
		v.exec(v.pending[i])
	}
	clear(v.pending)
	v.pending = v.pending[:0]
	return nil
}

func (v *_epoll) exec(req request) {
	var (
		n   int
		err error
	)
	switch req.kind {
	case kindWatch:
		v.park(req, unix.EPOLLIN)
		return
	case kindRead:
		n, err = retryEINTR(func() (int, error) { return unix.Read(req.fd, req.buf) })
		if errs.IsWouldBlock(err) {
			v.park(req, unix.EPOLLIN)
			return
		}
	case kindWrite:
		n, err = retryEINTR(func() (int, error) { return unix.Write(req.fd, req.buf) })
		if errs.IsWouldBlock(err) {
			v.park(req, unix.EPOLLOUT)
			return
		}
	}
	v.complete(req.tag, result(n, err))
}

func retryEINTR(call func() (int, error)) (int, error) {
	for {
		n, err := call()
		if !errs.IsInterrupted(err) {
			return n, err
		}
	}
}

func result(n int, err error) int32 {
	if err == nil {
		return int32(n)
	}
	if no, ok := err.(unix.Errno); ok {
		return -int32(no)
	}
	return -int32(unix.EIO)
}

func (v *_epoll) park(req request, events uint32) {
	ev := &unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(req.fd)}

	var err error
	if _, ok := v.armed[req.fd]; ok {
		// a closed descriptor leaves the set silently, its number may come back from accept
		if err = unix.EpollCtl(v.fd, unix.EPOLL_CTL_MOD, req.fd, ev); errors.Is(err, unix.ENOENT) {
			err = unix.EpollCtl(v.fd, unix.EPOLL_CTL_ADD, req.fd, ev)
		}
	} else {
		if err = unix.EpollCtl(v.fd, unix.EPOLL_CTL_ADD, req.fd, ev); errors.Is(err, unix.EEXIST) {
			err = unix.EpollCtl(v.fd, unix.EPOLL_CTL_MOD, req.fd, ev)
		}
	}
	if err != nil {
		delete(v.armed, req.fd)
		v.complete(req.tag, result(0, err))
		return
	}
	v.armed[req.fd] = struct{}{}
	v.parked[req.fd] = req
}

func (v *_epoll) complete(tag uint64, res int32) {
	v.ready.Add(Completion{Tag: tag, Res: res, seq: v.tail})
	v.tail++
}

func (v *_epoll) Wait() error {
	if v.closed {
		return ErrClosed
	}
	for v.ready.Length() == 0 {
		n, err := unix.EpollWait(v.fd, v.events, -1)
		if err != nil {
			if errs.IsInterrupted(err) {
				continue
			}
			return os.NewSyscallError("epoll_wait", err)
		}
		for i := 0; i < n; i++ {
			fd := int(v.events[i].Fd)
			req, ok := v.parked[fd]
			if !ok {
				continue
			}
			delete(v.parked, fd)
			if req.kind == kindWatch {
				v.complete(req.tag, int32(v.events[i].Events))
				continue
			}
			v.exec(req)
		}
	}
	return nil
}

func (v *_epoll) Drain(max int) iter.Seq[Completion] {
	if v.closed {
		return drain(0, nil, nil)
	}
	return drain(max,
		func() (uint32, uint32) {
			return v.head, v.tail
		},
		func(seq uint32) Completion {
			return v.ready.Get(int(seq - v.head)).(Completion)
		},
	)
}

func (v *_epoll) Seen(c Completion) error {
	if v.closed {
		return ErrClosed
	}
	if v.ready.Length() == 0 || c.seq != v.head {
		return ErrAckOrder
	}
	v.ready.Remove()
	v.head++
	return nil
}

func (v *_epoll) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	clear(v.pending)
	clear(v.parked)
	clear(v.armed)
	return unix.Close(v.fd)
}
