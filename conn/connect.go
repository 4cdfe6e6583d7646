/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package conn

import (
	"go.osspkg.com/ioutils/pool"
)

const DefaultBufferSize = 4096

type (
	Buffer struct {
		B []byte
	}

	// Connection is one accepted socket with its echo buffer. It holds at most one
	// outstanding request: the one named by the last Op it returned.
	Connection struct {
		fd      int
		state   State
		buf     *Buffer
		pending int
	}
)

func (*Buffer) Reset() {}

func newBufferPool(size int) *pool.Pool[*Buffer] {
	return pool.New[*Buffer](func() *Buffer {
		return &Buffer{B: make([]byte, size)}
	})
}

func (v *Connection) FD() int {
	return v.fd
}

func (v *Connection) State() State {
	return v.state
}

// Buffer is the full-capacity read target.
func (v *Connection) Buffer() []byte {
	if v.buf == nil {
		return nil
	}
	return v.buf.B
}

// Pending is the part of the buffer filled by the last read, the write payload.
func (v *Connection) Pending() []byte {
	if v.buf == nil {
		return nil
	}
	return v.buf.B[:v.pending]
}

// Complete applies the result of the outstanding request and returns the next one.
//
//	awaiting_readable: res >= 0 -> read,  res < 0 -> close
//	reading:           res > 0  -> write, res <= 0 -> close
//	writing:           res >= 0 -> watch, res < 0 -> close
func (v *Connection) Complete(res int32) Op {
	switch v.state {
	case StateAwaitingReadable:
		if res < 0 {
			return v.closing()
		}
		v.state = StateReading
		return OpRead

	case StateReading:
		if res <= 0 {
			return v.closing()
		}
		v.pending = min(int(res), len(v.buf.B))
		v.state = StateWriting
		return OpWrite

	case StateWriting:
		if res < 0 {
			return v.closing()
		}
		v.pending = 0
		v.state = StateAwaitingReadable
		return OpWatch

	default:
		return OpClose
	}
}

func (v *Connection) closing() Op {
	v.state = StateClosed
	v.pending = 0
	return OpClose
}
