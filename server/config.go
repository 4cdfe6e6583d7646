/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package server

import (
	"fmt"

	"go.osspkg.com/echoring/address"
	"go.osspkg.com/echoring/conn"
	"go.osspkg.com/echoring/internal"
	"go.osspkg.com/echoring/ring"
)

const (
	DefaultPort        = 42390
	DefaultEntries     = 64
	DefaultBacklog     = 32
	DefaultBufferSize  = conn.DefaultBufferSize
	DefaultAcceptLimit = 256
)

type Config struct {
	Address     string `yaml:"address"`
	Backend     string `yaml:"backend,omitempty"`
	Entries     uint32 `yaml:"entries,omitempty"`
	Backlog     int    `yaml:"backlog,omitempty"`
	BufferSize  int    `yaml:"buffer_size,omitempty"`
	AcceptLimit int    `yaml:"accept_limit,omitempty"`
}

// Default fills zero fields. Backlog bounds both the kernel accept queue and the
// number of completions handled per loop iteration.
func (c *Config) Default() {
	if len(c.Address) == 0 {
		c.Address = address.JoinHostPort("", DefaultPort)
	}
	if len(c.Backend) == 0 {
		c.Backend = ring.BackendAuto
	}
	c.Entries = internal.CeilPowerOfTwo(internal.NotZero(c.Entries, DefaultEntries))
	c.Backlog = internal.NotZero(c.Backlog, DefaultBacklog)
	c.BufferSize = internal.NotZero(c.BufferSize, DefaultBufferSize)
	c.AcceptLimit = internal.NotZero(c.AcceptLimit, DefaultAcceptLimit)
}

func (c Config) Validate() error {
	if len(c.Address) == 0 {
		return fmt.Errorf("server address is empty")
	}
	if err := (ring.Config{Backend: c.Backend, Entries: c.Entries}).Validate(); err != nil {
		return err
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("server backlog must be positive")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("server buffer size must be positive")
	}
	if c.AcceptLimit <= 0 {
		return fmt.Errorf("server accept limit must be positive")
	}
	return nil
}
