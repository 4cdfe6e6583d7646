/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal_test

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/echoring/internal"
)

type mockDeadline struct {
	calls atomic.Int32
}

func (m *mockDeadline) SetDeadline(time.Time) error {
	m.calls.Add(1)
	return nil
}

func TestUnit_DeadlineUpdate(t *testing.T) {
	m := &mockDeadline{}
	stop := internal.DeadlineUpdate(m, 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()
	stop()
	time.Sleep(15 * time.Millisecond)

	calls := m.calls.Load()
	casecheck.True(t, calls >= 2, "deadline must be refreshed")

	time.Sleep(30 * time.Millisecond)
	casecheck.Equal(t, calls, m.calls.Load())
}

func TestUnit_NotZero(t *testing.T) {
	casecheck.Equal(t, 4096, internal.NotZero(0, 4096, 10))
	casecheck.Equal(t, uint32(0), internal.NotZero[uint32]())
	casecheck.Equal(t, time.Second, internal.NotZeroDuration(0, time.Second))
}

func TestUnit_CeilPowerOfTwo(t *testing.T) {
	tests := map[uint32]uint32{0: 0, 1: 1, 2: 2, 3: 4, 48: 64, 64: 64, 65: 128}
	for in, want := range tests {
		casecheck.Equal(t, want, internal.CeilPowerOfTwo(in))
	}
}

func TestUnit_NormalCloseError(t *testing.T) {
	casecheck.NoError(t, internal.NormalCloseError(io.EOF))
	casecheck.Error(t, internal.NormalCloseError(io.ErrUnexpectedEOF))
	casecheck.NoError(t, internal.IsPassableNetwork(internal.NetTCP))
	casecheck.Error(t, internal.IsPassableNetwork("quic"))
}
