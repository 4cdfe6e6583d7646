/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal

import (
	"io"
	"sync"
	"time"
)

type Conn interface {
	io.ReadWriteCloser
	Deadline
}

type Deadline interface {
	SetDeadline(t time.Time) error
}

// DeadlineUpdate keeps pushing the connection deadline ttl ahead until stop is called.
func DeadlineUpdate(conn Deadline, ttl time.Duration) (stop func()) {
	if err := conn.SetDeadline(time.Now().Add(ttl)); err != nil {
		return func() {}
	}

	tik := time.NewTicker(ttl / 2)
	closeC := make(chan struct{})

	go func() {
		for {
			select {
			case <-closeC:
				return
			case v := <-tik.C:
				if err := conn.SetDeadline(v.Add(ttl)); err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			tik.Stop()
			close(closeC)
		})
	}
}
