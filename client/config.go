/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package client

import (
	"fmt"
	"net"
	"time"

	"go.osspkg.com/echoring/internal"
)

type Config struct {
	Network  string        `yaml:"network"`
	Address  string        `yaml:"address"`
	MaxConns uint64        `yaml:"max_conns,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

func (c Config) Resolve() (addr fmt.Stringer, err error) {
	if err = internal.IsPassableNetwork(c.Network); err != nil {
		return nil, err
	}

	switch c.Network {
	case internal.NetUNIX:
		return net.ResolveUnixAddr(internal.NetUNIX, c.Address)
	default:
		return net.ResolveTCPAddr(c.Network, c.Address)
	}
}
