/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package conn

type (
	State uint8
	Op    uint8
)

const (
	StateClosed State = iota
	StateAwaitingReadable
	StateReading
	StateWriting
)

// Op is the single request a connection asks for after a completion.
const (
	OpClose Op = iota
	OpWatch
	OpRead
	OpWrite
)

func (s State) String() string {
	switch s {
	case StateAwaitingReadable:
		return "awaiting_readable"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (o Op) String() string {
	switch o {
	case OpWatch:
		return "watch"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpClose:
		return "close"
	default:
		return "unknown"
	}
}
