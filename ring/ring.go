/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package ring is a completion queue over non-blocking descriptors.
//
// Requests are queued with WatchReadable, Read and Write, handed to the kernel with Submit
// and reported back as Completion records carrying the tag given at enqueue time.
// A Ring is not safe for concurrent use: it belongs to the goroutine running the event loop.
package ring

import (
	"fmt"
	"iter"

	"go.osspkg.com/errors"
	"go.osspkg.com/logx"

	"go.osspkg.com/echoring/errs"
)

const (
	BackendAuto  = "auto"
	BackendURing = "uring"
	BackendEpoll = "epoll"
)

var (
	ErrClosed         = errors.New("ring closed")
	ErrSubmissionFull = errors.New("submission queue is full")
	ErrAckOrder       = errors.New("completion acknowledged out of order")
	ErrUnsupported    = errors.New("backend is not supported on this platform")
)

type (
	// Completion is a finished request. Res is negative errno on failure,
	// otherwise a byte count (read, write) or a poll revents mask (watch).
	Completion struct {
		Tag uint64
		Res int32
		seq uint32
	}

	Ring interface {
		WatchReadable(fd int, tag uint64) error
		Read(fd int, b []byte, tag uint64) error
		Write(fd int, b []byte, tag uint64) error
		Submit() error
		Wait() error
		Drain(max int) iter.Seq[Completion]
		Seen(c Completion) error
		Backend() string
		Close() error
	}

	Config struct {
		Backend string `yaml:"backend"`
		Entries uint32 `yaml:"entries"`
	}
)

func (c Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendURing, BackendEpoll:
	default:
		return fmt.Errorf("ring backend %q is unknown, use: auto, uring, epoll", c.Backend)
	}
	if c.Entries == 0 {
		return fmt.Errorf("ring entries is empty")
	}
	if c.Entries&(c.Entries-1) != 0 {
		return fmt.Errorf("ring entries must be a power of two, got %d", c.Entries)
	}
	return nil
}

func New(c Config) (Ring, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	switch c.Backend {
	case BackendURing:
		return newURing(c.Entries)
	case BackendEpoll:
		return newEpoll(c.Entries)
	}

	r, err := newURing(c.Entries)
	if err == nil {
		return r, nil
	}
	logx.Warn("Ring io_uring unavailable, fallback to epoll", "err", err)
	return newEpoll(c.Entries)
}

// Err converts a negative result to the errno it carries.
func (c Completion) Err() error {
	return errs.FromResult(c.Res)
}

// drain yields up to max entries in [head, tail). bounds is sampled once when iteration
// starts, at returns the entry stored under a sequence number.
func drain(max int, bounds func() (head, tail uint32), at func(seq uint32) Completion) iter.Seq[Completion] {
	return func(yield func(Completion) bool) {
		if max <= 0 {
			return
		}
		head, tail := bounds()
		n := tail - head
		if uint32(max) < n {
			n = uint32(max)
		}
		for seq := head; seq != head+n; seq++ {
			if !yield(at(seq)) {
				return
			}
		}
	}
}
