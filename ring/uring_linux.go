/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package ring

import (
	"fmt"
	"iter"
	"os"
	"sync/atomic"
	"unsafe"

	"go.osspkg.com/errors"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echoring/errs"
)

const (
	opPollAdd uint8 = 6
	opRead    uint8 = 22
	opWrite   uint8 = 23

	offSQRing int64 = 0
	offCQRing int64 = 0x8000000
	offSQEs   int64 = 0x10000000

	enterGetEvents uintptr = 1 << 0

	// READ/WRITE arrived in 5.6, FAST_POLL in 5.7: the flag is the cheapest probe for both.
	featFastPoll uint32 = 1 << 5
)

type (
	sqRingOffsets struct {
		head        uint32
		tail        uint32
		ringMask    uint32
		ringEntries uint32
		flags       uint32
		dropped     uint32
		array       uint32
		resv1       uint32
		userAddr    uint64
	}

	cqRingOffsets struct {
		head        uint32
		tail        uint32
		ringMask    uint32
		ringEntries uint32
		overflow    uint32
		cqes        uint32
		flags       uint32
		resv1       uint32
		userAddr    uint64
	}

	uringParams struct {
		sqEntries    uint32
		cqEntries    uint32
		flags        uint32
		sqThreadCPU  uint32
		sqThreadIdle uint32
		features     uint32
		wqFD         uint32
		resv         [3]uint32
		sqOff        sqRingOffsets
		cqOff        cqRingOffsets
	}

	// sqe mirrors struct io_uring_sqe (64 bytes).
	sqe struct {
		opcode      uint8
		flags       uint8
		ioprio      uint16
		fd          int32
		off         uint64
		addr        uint64
		len         uint32
		opFlags     uint32
		userData    uint64
		bufIndex    uint16
		personality uint16
		spliceFDIn  int32
		addr3       uint64
		_           uint64
	}

	// cqe mirrors struct io_uring_cqe (16 bytes).
	cqe struct {
		userData uint64
		res      int32
		flags    uint32
	}

	_uring struct {
		fd int

		sqMem  []byte
		cqMem  []byte
		sqeMem []byte

		sqHead    *uint32
		sqTail    *uint32
		sqMask    uint32
		sqEntries uint32
		sqArray   []uint32
		sqes      []sqe

		cqHead *uint32
		cqTail *uint32
		cqMask uint32
		cqes   []cqe

		tail    uint32
		pending uint32
		closed  bool
	}
)

func newURing(entries uint32) (Ring, error) {
	var p uringParams
	fd, _, e := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0)
	if e != 0 {
		return nil, os.NewSyscallError("io_uring_setup", e)
	}

	r := &_uring{fd: int(fd)}
	if p.features&featFastPoll == 0 {
		return nil, errors.Wrap(
			fmt.Errorf("io_uring without read/write opcodes: %w", ErrUnsupported),
			unix.Close(r.fd),
		)
	}
	if err := r.mmap(&p); err != nil {
		return nil, errors.Wrap(err, r.Close())
	}
	return r, nil
}

func (r *_uring) mmap(p *uringParams) (err error) {
	const prot, flags = unix.PROT_READ | unix.PROT_WRITE, unix.MAP_SHARED | unix.MAP_POPULATE

	sqSize := int(p.sqOff.array + p.sqEntries*uint32(unsafe.Sizeof(uint32(0))))
	if r.sqMem, err = unix.Mmap(r.fd, offSQRing, sqSize, prot, flags); err != nil {
		return os.NewSyscallError("mmap sq ring", err)
	}
	cqSize := int(p.cqOff.cqes + p.cqEntries*uint32(unsafe.Sizeof(cqe{})))
	if r.cqMem, err = unix.Mmap(r.fd, offCQRing, cqSize, prot, flags); err != nil {
		return os.NewSyscallError("mmap cq ring", err)
	}
	sqeSize := int(p.sqEntries * uint32(unsafe.Sizeof(sqe{})))
	if r.sqeMem, err = unix.Mmap(r.fd, offSQEs, sqeSize, prot, flags); err != nil {
		return os.NewSyscallError("mmap sqes", err)
	}

	r.sqHead = u32At(r.sqMem, p.sqOff.head)
	r.sqTail = u32At(r.sqMem, p.sqOff.tail)
	r.sqMask = *u32At(r.sqMem, p.sqOff.ringMask)
	r.sqEntries = *u32At(r.sqMem, p.sqOff.ringEntries)
	r.sqArray = unsafe.Slice(u32At(r.sqMem, p.sqOff.array), p.sqEntries)
	r.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&r.sqeMem[0])), p.sqEntries)

	r.cqHead = u32At(r.cqMem, p.cqOff.head)
	r.cqTail = u32At(r.cqMem, p.cqOff.tail)
	r.cqMask = *u32At(r.cqMem, p.cqOff.ringMask)
	r.cqes = unsafe.Slice((*cqe)(unsafe.Pointer(&r.cqMem[p.cqOff.cqes])), p.cqEntries)

	r.tail = atomic.LoadUint32(r.sqTail)
	return nil
}

func u32At(mem []byte, off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

func (r *_uring) Backend() string {
	return BackendURing
}

func (r *_uring) WatchReadable(fd int, tag uint64) error {
	return r.push(sqe{opcode: opPollAdd, fd: int32(fd), opFlags: unix.POLLIN, userData: tag})
}

func (r *_uring) Read(fd int, b []byte, tag uint64) error {
	if len(b) == 0 {
		return fmt.Errorf("read into empty buffer")
	}
	return r.push(sqe{
		opcode:   opRead,
		fd:       int32(fd),
		addr:     uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b)))),
		len:      uint32(len(b)),
		userData: tag,
	})
}

func (r *_uring) Write(fd int, b []byte, tag uint64) error {
	return r.push(sqe{
		opcode:   opWrite,
		fd:       int32(fd),
		addr:     uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b)))),
		len:      uint32(len(b)),
		userData: tag,
	})
}

func (r *_uring) push(e sqe) error {
	if r.closed {
		return ErrClosed
	}
	if r.full() {
		if err := r.Submit(); err != nil {
			return err
		}
		if r.full() {
			return ErrSubmissionFull
		}
	}

	idx := r.tail & r.sqMask
	r.sqes[idx] = e
	r.sqArray[idx] = idx
	r.tail++
	atomic.StoreUint32(r.sqTail, r.tail)
	r.pending++
	return nil
}

func (r *_uring) full() bool {
	return r.tail-atomic.LoadUint32(r.sqHead) >= r.sqEntries
}

func (r *_uring) enter(toSubmit, minComplete uint32, flags uintptr) (uint32, error) {
	n, _, e := unix.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), flags, 0, 0)
	if e != 0 {
		return 0, e
	}
	return uint32(n), nil
}

func (r *_uring) Submit() error {
	if r.closed {
		return ErrClosed
	}
	for r.pending > 0 {
		n, err := r.enter(r.pending, 0, 0)
		switch {
		case err == nil:
		case errs.IsInterrupted(err):
			continue
		case errors.Is(err, unix.EBUSY), errs.IsWouldBlock(err):
			// completion queue is saturated, the entries stay queued until it is drained
			return nil
		default:
			return os.NewSyscallError("io_uring_enter", err)
		}
		if n == 0 {
			return nil
		}
		r.pending -= min(n, r.pending)
	}
	return nil
}

func (r *_uring) Wait() error {
	if r.closed {
		return ErrClosed
	}
	for atomic.LoadUint32(r.cqTail) == atomic.LoadUint32(r.cqHead) {
		_, err := r.enter(0, 1, enterGetEvents)
		if err != nil && !errs.IsInterrupted(err) {
			return os.NewSyscallError("io_uring_enter", err)
		}
	}
	return nil
}

func (r *_uring) Drain(max int) iter.Seq[Completion] {
	if r.closed {
		return drain(0, nil, nil)
	}
	return drain(max,
		func() (uint32, uint32) {
			return atomic.LoadUint32(r.cqHead), atomic.LoadUint32(r.cqTail)
		},
		func(seq uint32) Completion {
			c := r.cqes[seq&r.cqMask]
			return Completion{Tag: c.userData, Res: c.res, seq: seq}
		},
	)
}

func (r *_uring) Seen(c Completion) error {
	if r.closed {
		return ErrClosed
	}
	head := atomic.LoadUint32(r.cqHead)
	if c.seq != head || head == atomic.LoadUint32(r.cqTail) {
		return ErrAckOrder
	}
	atomic.StoreUint32(r.cqHead, head+1)
	return nil
}

func (r *_uring) Close() (err error) {
	if r.closed {
		return nil
	}
	r.closed = true

	for _, mem := range [][]byte{r.sqeMem, r.cqMem, r.sqMem} {
		if mem != nil {
			err = errors.Wrap(err, unix.Munmap(mem))
		}
	}
	r.sqes, r.sqArray, r.cqes = nil, nil, nil
	r.sqeMem, r.cqMem, r.sqMem = nil, nil, nil

	return errors.Wrap(err, unix.Close(r.fd))
}
