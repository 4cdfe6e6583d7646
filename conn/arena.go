/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package conn

import (
	"fmt"

	"go.osspkg.com/errors"

	"go.osspkg.com/echoring/fd"
)

// Handle addresses a connection in an Arena: slot generation in the high half,
// slot index in the low half. Generations start at 1, so every handle is at least
// 1<<32 and small tag values stay free for the listener and the wakeup descriptor.
type Handle uint64

const minHandle = Handle(1) << 32

var ErrStaleHandle = errors.New("stale connection handle")

type (
	bufferPool interface {
		Get() *Buffer
		Put(*Buffer)
	}

	slot struct {
		gen  uint32
		used bool
		conn Connection
	}

	// Arena owns every live Connection. Removing a connection is the only place
	// its descriptor is closed and its buffer released.
	Arena struct {
		slots []slot
		free  []uint32
		count int
		bufs  bufferPool
	}
)

func NewArena(bufferSize int) *Arena {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Arena{
		slots: make([]slot, 0, 64),
		free:  make([]uint32, 0, 64),
		bufs:  newBufferPool(bufferSize),
	}
}

// IsHandle reports whether a tag can belong to a connection.
func IsHandle(tag uint64) bool {
	return Handle(tag) >= minHandle
}

func (h Handle) index() uint32 {
	return uint32(h)
}

func (h Handle) gen() uint32 {
	return uint32(h >> 32)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index(), h.gen())
}

// Insert registers an accepted descriptor as a new connection awaiting readability.
func (a *Arena) Insert(fd int) (*Connection, Handle) {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{gen: 1})
	}

	s := &a.slots[idx]
	s.used = true
	s.conn = Connection{
		fd:    fd,
		state: StateAwaitingReadable,
		buf:   a.bufs.Get(),
	}
	a.count++

	return &s.conn, Handle(s.gen)<<32 | Handle(idx)
}

// Get resolves a handle. A handle of a removed connection never resolves,
// even when its slot was reused.
func (a *Arena) Get(h Handle) (*Connection, bool) {
	idx := h.index()
	if h < minHandle || int(idx) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[idx]
	if !s.used || s.gen != h.gen() {
		return nil, false
	}
	return &s.conn, true
}

// Remove closes the connection descriptor and releases its slot and buffer.
func (a *Arena) Remove(h Handle) error {
	c, ok := a.Get(h)
	if !ok {
		return ErrStaleHandle
	}

	err := fd.Close(c.fd)

	a.bufs.Put(c.buf)
	s := &a.slots[h.index()]
	s.conn = Connection{fd: -1, state: StateClosed}
	s.used = false
	if s.gen++; s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, h.index())
	a.count--

	return err
}

func (a *Arena) Len() int {
	return a.count
}

// Range calls fn for every live connection until fn returns false.
// fn must not insert into the arena.
func (a *Arena) Range(fn func(h Handle, c *Connection) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used {
			continue
		}
		if !fn(Handle(s.gen)<<32|Handle(i), &s.conn) {
			return
		}
	}
}

// Close removes every live connection.
func (a *Arena) Close() (err error) {
	handles := make([]Handle, 0, a.count)
	a.Range(func(h Handle, _ *Connection) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		err = errors.Wrap(err, a.Remove(h))
	}
	return
}
