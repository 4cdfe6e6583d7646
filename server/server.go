/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"context"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"go.osspkg.com/errors"
	"go.osspkg.com/logx"
	"go.osspkg.com/syncing"
	"golang.org/x/sys/unix"

	"go.osspkg.com/echoring/conn"
	"go.osspkg.com/echoring/errs"
	"go.osspkg.com/echoring/fd"
	"go.osspkg.com/echoring/internal"
	"go.osspkg.com/echoring/listen"
	"go.osspkg.com/echoring/ring"
)

// Tags below conn's smallest handle are reserved for descriptors owned by the loop itself.
const (
	tagListener uint64 = 0
	tagWakeup   uint64 = 1
)

type (
	Server interface {
		Listen() error
		Serve(ctx context.Context) error
		ListenAndServe(ctx context.Context) error
		Addr() net.Addr
		Connections() int
		Gatherer() prometheus.Gatherer
	}

	_server struct {
		conf     Config
		sync     syncing.Switch
		wg       syncing.Group
		listener *listen.Listener
		addr     net.Addr
		ring     ring.Ring
		arena    *conn.Arena
		wakeFD   int
		metrics  *metrics
		// set while accept fails for lack of descriptors, cleared by the next release
		paused   bool
	}
)

func New(conf Config) Server {
	conf.Default()
	return &_server{
		conf:    conf,
		sync:    syncing.NewSwitch(),
		wg:      syncing.NewGroup(),
		wakeFD:  -1,
		metrics: newMetrics(),
	}
}

// Listen binds the listening socket, so Addr is known before Serve starts.
func (v *_server) Listen() error {
	if v.sync.IsOn() {
		return internal.ErrServAlreadyRunning
	}
	if v.listener != nil {
		return nil
	}
	if err := v.conf.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	l, err := listen.New(v.conf.Address, v.conf.Backlog)
	if err != nil {
		return err
	}
	v.listener = l
	v.addr = l.Addr()
	return nil
}

func (v *_server) ListenAndServe(ctx context.Context) error {
	if err := v.Listen(); err != nil {
		return err
	}
	return v.Serve(ctx)
}

func (v *_server) Addr() net.Addr {
	return v.addr
}

func (v *_server) Connections() int {
	return int(v.metrics.active.Load())
}

func (v *_server) Gatherer() prometheus.Gatherer {
	return v.metrics.registry
}

// Serve runs the event loop on the calling goroutine until ctx is done
// or the completion backend fails.
func (v *_server) Serve(ctx context.Context) (err error) {
	if v.listener == nil {
		return fmt.Errorf("listener is not bound, call Listen first")
	}
	if !v.sync.On() {
		return internal.ErrServAlreadyRunning
	}

	if err = v.build(); err != nil {
		return errors.Wrap(err, v.close())
	}

	ctx, cancel := context.WithCancel(ctx)

	v.wg.Background(func() {
		<-ctx.Done()
		if e := fd.Notify(v.wakeFD); e != nil {
			logx.Error("Echo server wakeup", "err", e)
		}
	})

	defer func() {
		cancel()
		v.wg.Wait()
		err = errors.Wrap(err, v.close())
	}()

	logx.Info("Echo server started", "addr", v.Addr(), "backend", v.ring.Backend())

	err = v.loop(ctx)
	return
}

func (v *_server) build() (err error) {
	v.ring, err = ring.New(ring.Config{Backend: v.conf.Backend, Entries: v.conf.Entries})
	if err != nil {
		return fmt.Errorf("init ring: %w", err)
	}
	if v.wakeFD, err = fd.Eventfd(); err != nil {
		return err
	}
	v.arena = conn.NewArena(v.conf.BufferSize)
	return nil
}

func (v *_server) close() (err error) {
	if v.ring != nil {
		err = errors.Wrap(err, v.ring.Close())
		v.ring = nil
	}
	if v.arena != nil {
		n := v.arena.Len()
		err = errors.Wrap(err, v.arena.Close())
		v.metrics.active.Add(-int64(n))
		v.metrics.closed.Add(float64(n))
		v.arena = nil
	}
	v.paused = false
	if v.wakeFD >= 0 {
		err = errors.Wrap(err, unix.Close(v.wakeFD))
		v.wakeFD = -1
	}
	if v.listener != nil {
		err = errors.Wrap(err, v.listener.Close())
		v.listener = nil
	}
	v.sync.Off()
	logx.Info("Echo server stopped", "err", err)
	return
}

func (v *_server) loop(ctx context.Context) error {
	if err := v.watchListener(); err != nil {
		return err
	}
	if err := v.ring.WatchReadable(v.wakeFD, tagWakeup); err != nil {
		return errors.Wrapf(err, "watch wakeup")
	}

	for {
		if err := v.ring.Submit(); err != nil {
			return errors.Wrapf(err, "submit")
		}
		if err := v.ring.Wait(); err != nil {
			return errors.Wrapf(err, "wait completion")
		}

		for c := range v.ring.Drain(v.conf.Backlog) {
			if err := v.ring.Seen(c); err != nil {
				return errors.Wrapf(err, "acknowledge completion")
			}

			switch c.Tag {
			case tagListener:
				v.metrics.completions.WithLabelValues("listener").Inc()
				if err := v.acceptAll(); err != nil {
					return err
				}

			case tagWakeup:
				v.metrics.completions.WithLabelValues("wakeup").Inc()
				if ctx.Err() != nil {
					return nil
				}
				if _, err := fd.Consume(v.wakeFD); err != nil {
					return err
				}
				if err := v.ring.WatchReadable(v.wakeFD, tagWakeup); err != nil {
					return errors.Wrapf(err, "watch wakeup")
				}

			default:
				v.metrics.completions.WithLabelValues("connection").Inc()
				v.dispatch(c)
			}
		}
	}
}

// acceptAll drains the accept queue, at most AcceptLimit connections per readiness
// notification, then re-arms the listener watch.
func (v *_server) acceptAll() error {
	for i := 0; i < v.conf.AcceptLimit; i++ {
		nfd, addr, err := v.listener.Accept()
		if err != nil {
			if errors.Is(err, fd.ErrWouldBlock) {
				break
			}
			if errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if errs.IsResourceLimit(err) && v.arena.Len() > 0 {
				logx.Warn("Echo accept paused until a connection is released", "err", err, "connections", v.arena.Len())
				v.paused = true
				return nil
			}
			logx.Warn("Echo accept", "err", err)
			break
		}

		c, h := v.arena.Insert(nfd)
		v.metrics.opened()
		logx.Debug("Echo connection opened", "handle", h, "fd", nfd, "addr", addr)

		if err = v.ring.WatchReadable(c.FD(), uint64(h)); err != nil {
			logx.Warn("Echo watch connection", "err", err, "handle", h)
			v.release(h, err)
		}
	}

	return v.watchListener()
}

func (v *_server) watchListener() error {
	if err := v.ring.WatchReadable(v.listener.FD(), tagListener); err != nil {
		return errors.Wrapf(err, "watch listener")
	}
	return nil
}

func (v *_server) dispatch(comp ring.Completion) {
	h := conn.Handle(comp.Tag)
	c, ok := v.arena.Get(h)
	if !ok {
		logx.Warn("Echo completion without connection", "handle", h, "res", comp.Res)
		return
	}

	prev := c.State()
	if prev == conn.StateWriting && comp.Res > 0 {
		v.metrics.echoed.Add(float64(comp.Res))
	}

	var err error
	switch c.Complete(comp.Res) {
	case conn.OpRead:
		err = v.ring.Read(c.FD(), c.Buffer(), comp.Tag)
	case conn.OpWrite:
		err = v.ring.Write(c.FD(), c.Pending(), comp.Tag)
	case conn.OpWatch:
		err = v.ring.WatchReadable(c.FD(), comp.Tag)
	default:
		if prev == conn.StateWriting {
			v.metrics.writeErrors.Inc()
		}
		if !errs.IsPeerClosed(comp.Res) {
			logx.Warn("Echo connection failed", "handle", h, "state", prev, "err", comp.Err())
		}
		v.release(h, comp.Err())
		return
	}

	if err != nil {
		logx.Warn("Echo submit", "err", err, "handle", h, "state", c.State())
		v.release(h, err)
	}
}

func (v *_server) release(h conn.Handle, cause error) {
	if err := v.arena.Remove(h); err != nil {
		internal.WriteErrLog("Echo close connection", err, nil)
	}
	v.metrics.released()
	logx.Debug("Echo connection closed", "handle", h, "cause", cause)

	if v.paused {
		v.paused = false
		if err := v.watchListener(); err != nil {
			logx.Error("Echo resume accept", "err", err)
		}
	}
}
