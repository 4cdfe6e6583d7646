/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package ring_test

import (
	"testing"

	"go.osspkg.com/casecheck"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echoring/ring"
)

func newRing(t *testing.T, backend string) ring.Ring {
	t.Helper()
	r, err := ring.New(ring.Config{Backend: backend, Entries: 8})
	if err != nil {
		if backend == ring.BackendURing {
			t.Skipf("io_uring is not available: %v", err)
		}
		t.Fatalf("new ring: %v", err)
	}
	t.Cleanup(func() { casecheck.NoError(t, r.Close()) })
	return r
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	casecheck.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0]) // nolint: errcheck
		unix.Close(fds[1]) // nolint: errcheck
	})
	return fds[0], fds[1]
}

func next(t *testing.T, r ring.Ring) ring.Completion {
	t.Helper()
	casecheck.NoError(t, r.Submit())
	casecheck.NoError(t, r.Wait())
	for c := range r.Drain(1) {
		casecheck.NoError(t, r.Seen(c))
		return c
	}
	t.Fatalf("no completion after wait")
	return ring.Completion{}
}

func TestUnit_ConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		conf ring.Config
		ok   bool
	}{
		{name: "auto", conf: ring.Config{Backend: ring.BackendAuto, Entries: 64}, ok: true},
		{name: "epoll", conf: ring.Config{Backend: ring.BackendEpoll, Entries: 1}, ok: true},
		{name: "unknown backend", conf: ring.Config{Backend: "kqueue", Entries: 64}},
		{name: "empty entries", conf: ring.Config{Backend: ring.BackendURing}},
		{name: "not power of two", conf: ring.Config{Backend: ring.BackendURing, Entries: 48}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.Validate()
			casecheck.Equal(t, tt.ok, err == nil)
		})
	}
}

func TestUnit_CompletionErr(t *testing.T) {
	casecheck.NoError(t, ring.Completion{Res: 10}.Err())
	casecheck.True(t, ring.Completion{Res: -int32(unix.EPIPE)}.Err() == unix.EPIPE)
}

func TestIntegration_WatchReadWrite(t *testing.T) {
	for _, backend := range []string{ring.BackendEpoll, ring.BackendURing} {
		t.Run(backend, func(t *testing.T) {
			r := newRing(t, backend)
			casecheck.Equal(t, backend, r.Backend())

			local, peer := socketPair(t)

			casecheck.NoError(t, r.WatchReadable(local, 7))
			_, err := unix.Write(peer, []byte("ping"))
			casecheck.NoError(t, err)

			c := next(t, r)
			casecheck.Equal(t, uint64(7), c.Tag)
			casecheck.True(t, c.Res&unix.POLLIN != 0, "revents without POLLIN")

			buf := make([]byte, 16)
			casecheck.NoError(t, r.Read(local, buf, 8))
			c = next(t, r)
			casecheck.Equal(t, uint64(8), c.Tag)
			casecheck.Equal(t, int32(4), c.Res)
			casecheck.Equal(t, "ping", string(buf[:c.Res]))

			casecheck.NoError(t, r.Write(local, buf[:c.Res], 9))
			c = next(t, r)
			casecheck.Equal(t, uint64(9), c.Tag)
			casecheck.Equal(t, int32(4), c.Res)

			got := make([]byte, 16)
			n, err := unix.Read(peer, got)
			casecheck.NoError(t, err)
			casecheck.Equal(t, "ping", string(got[:n]))
		})
	}
}

func TestIntegration_ReadPeerClosed(t *testing.T) {
	for _, backend := range []string{ring.BackendEpoll, ring.BackendURing} {
		t.Run(backend, func(t *testing.T) {
			r := newRing(t, backend)
			local, peer := socketPair(t)

			casecheck.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
			casecheck.NoError(t, r.Read(local, make([]byte, 8), 1))

			c := next(t, r)
			casecheck.Equal(t, int32(0), c.Res)
		})
	}
}

func TestIntegration_ReadBoundedByBuffer(t *testing.T) {
	for _, backend := range []string{ring.BackendEpoll, ring.BackendURing} {
		t.Run(backend, func(t *testing.T) {
			r := newRing(t, backend)
			local, peer := socketPair(t)

			payload := []byte("0123456789abcdefXYZWV")
			_, err := unix.Write(peer, payload)
			casecheck.NoError(t, err)

			buf := make([]byte, 16)
			casecheck.NoError(t, r.Read(local, buf, 1))
			c := next(t, r)
			casecheck.Equal(t, int32(16), c.Res)
			casecheck.Equal(t, "0123456789abcdef", string(buf[:c.Res]))

			casecheck.NoError(t, r.Write(local, buf[:c.Res], 2))
			c = next(t, r)
			casecheck.Equal(t, int32(16), c.Res)

			casecheck.NoError(t, r.Read(local, buf, 3))
			c = next(t, r)
			casecheck.Equal(t, int32(5), c.Res)
			casecheck.Equal(t, "XYZWV", string(buf[:c.Res]))
		})
	}
}

func TestIntegration_DrainOrderAndAck(t *testing.T) {
	for _, backend := range []string{ring.BackendEpoll, ring.BackendURing} {
		t.Run(backend, func(t *testing.T) {
			r := newRing(t, backend)

			var peers []int
			for tag := uint64(1); tag <= 3; tag++ {
				local, peer := socketPair(t)
				peers = append(peers, peer)
				_, err := unix.Write(peer, []byte{byte(tag)})
				casecheck.NoError(t, err)
				casecheck.NoError(t, r.Read(local, make([]byte, 4), tag))
			}
			casecheck.Equal(t, 3, len(peers))

			casecheck.NoError(t, r.Submit())

			seen := make(map[uint64]bool)
			for len(seen) < 3 {
				casecheck.NoError(t, r.Wait())

				var batch []ring.Completion
				for c := range r.Drain(2) {
					batch = append(batch, c)
				}
				casecheck.True(t, len(batch) > 0 && len(batch) <= 2, "batch is bounded")

				if len(batch) > 1 {
					casecheck.Error(t, r.Seen(batch[1]))
				}
				for _, c := range batch {
					casecheck.NoError(t, r.Seen(c))
					casecheck.Equal(t, int32(1), c.Res)
					seen[c.Tag] = true
				}
				casecheck.Error(t, r.Seen(batch[0]))
			}
		})
	}
}

func TestIntegration_UnackedStaysVisible(t *testing.T) {
	r := newRing(t, ring.BackendEpoll)
	local, peer := socketPair(t)

	_, err := unix.Write(peer, []byte("x"))
	casecheck.NoError(t, err)
	casecheck.NoError(t, r.WatchReadable(local, 42))
	casecheck.NoError(t, r.Submit())
	casecheck.NoError(t, r.Wait())

	for c := range r.Drain(8) {
		casecheck.Equal(t, uint64(42), c.Tag)
	}

	count := 0
	for c := range r.Drain(8) {
		count++
		casecheck.NoError(t, r.Seen(c))
	}
	casecheck.Equal(t, 1, count)

	for range r.Drain(8) {
		t.Fatalf("acknowledged completion was yielded again")
	}
}

func TestIntegration_SubmissionOverflowFlushes(t *testing.T) {
	for _, backend := range []string{ring.BackendEpoll, ring.BackendURing} {
		t.Run(backend, func(t *testing.T) {
			r := newRing(t, backend)

			const total = 12
			for tag := uint64(0); tag < total; tag++ {
				local, peer := socketPair(t)
				_, err := unix.Write(peer, []byte("z"))
				casecheck.NoError(t, err)
				casecheck.NoError(t, r.WatchReadable(local, tag))
			}

			casecheck.NoError(t, r.Submit())
			got := 0
			for got < total {
				casecheck.NoError(t, r.Wait())
				for c := range r.Drain(total) {
					casecheck.NoError(t, r.Seen(c))
					got++
				}
			}
			casecheck.Equal(t, total, got)
		})
	}
}

func TestIntegration_Closed(t *testing.T) {
	r, err := ring.New(ring.Config{Backend: ring.BackendEpoll, Entries: 4})
	casecheck.NoError(t, err)
	casecheck.NoError(t, r.Close())
	casecheck.NoError(t, r.Close())

	casecheck.True(t, r.WatchReadable(0, 1) == ring.ErrClosed)
	casecheck.True(t, r.Submit() == ring.ErrClosed)
	casecheck.True(t, r.Wait() == ring.ErrClosed)
	for range r.Drain(4) {
		t.Fatalf("closed ring yielded a completion")
	}
}
