/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"net"
	"testing"
	"time"

	"go.osspkg.com/casecheck"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echoring/ring"
)

func TestIntegration_AcceptResumesOnRelease(t *testing.T) {
	srv := New(Config{Address: "127.0.0.1:0", Backend: ring.BackendEpoll}).(*_server)
	casecheck.NoError(t, srv.Listen())
	casecheck.NoError(t, srv.build())
	defer func() { casecheck.NoError(t, srv.close()) }()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	casecheck.NoError(t, err)
	defer unix.Close(fds[1]) // nolint: errcheck

	_, h := srv.arena.Insert(fds[0])
	srv.metrics.opened()

	srv.paused = true
	srv.release(h, nil)
	casecheck.False(t, srv.paused)
	casecheck.Equal(t, 0, srv.Connections())

	c, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	casecheck.NoError(t, err)
	defer c.Close() // nolint: errcheck

	casecheck.NoError(t, srv.ring.Submit())
	casecheck.NoError(t, srv.ring.Wait())
	var got []uint64
	for comp := range srv.ring.Drain(8) {
		casecheck.NoError(t, srv.ring.Seen(comp))
		got = append(got, comp.Tag)
	}
	casecheck.Equal(t, []uint64{tagListener}, got)
}
