/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.osspkg.com/algorithms/control"
	"go.osspkg.com/errors"

	"go.osspkg.com/echoring/internal"
)

const defaultTimeout = 10 * time.Second

type (
	Client interface {
		Call(ctx context.Context, handler func(ctx context.Context, w io.Writer, r io.Reader) error) error
		Echo(ctx context.Context, payload []byte) ([]byte, error)
	}

	_client struct {
		conf Config
		sem  control.Semaphore
	}
)

func New(c Config) (Client, error) {
	addr, err := c.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve address: %w", err)
	}

	c.Address = addr.String()
	c.MaxConns = internal.NotZero(c.MaxConns, 1)
	c.Timeout = internal.NotZeroDuration(c.Timeout, defaultTimeout)

	return &_client{
		conf: c,
		sem:  control.NewSemaphore(c.MaxConns),
	}, nil
}

func (v *_client) conn(ctx context.Context) (internal.Conn, error) {
	dial := net.Dialer{Timeout: v.conf.Timeout}
	conn, err := dial.DialContext(ctx, v.conf.Network, v.conf.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", v.conf.Network, err)
	}
	return conn, nil
}

// Call opens a dedicated connection for handler and closes it afterwards.
// At most MaxConns calls hold a connection at the same time.
func (v *_client) Call(ctx context.Context, handler func(ctx context.Context, w io.Writer, r io.Reader) error) (e error) {
	v.sem.Acquire()
	defer func() { v.sem.Release() }()

	conn, err := v.conn(ctx)
	if err != nil {
		return err
	}

	stop := internal.DeadlineUpdate(conn, v.conf.Timeout)

	defer func() {
		stop()
		err0 := conn.Close()
		writeLog(err0, "Client close connect", v.conf.Network, v.conf.Address)
		e = errors.Wrap(e, internal.NormalCloseError(err0))
	}()

	e = handler(ctx, conn, conn)

	return
}

// Echo sends payload in a single write and reads back exactly as many bytes.
func (v *_client) Echo(ctx context.Context, payload []byte) ([]byte, error) {
	out := bytes.NewBuffer(make([]byte, 0, len(payload)))
	err := v.Call(ctx, func(_ context.Context, w io.Writer, r io.Reader) error {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
		if _, err := io.CopyN(out, r, int64(len(payload))); err != nil {
			return fmt.Errorf("read echo: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
