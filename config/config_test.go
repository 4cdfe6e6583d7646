/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/echoring/config"
	"go.osspkg.com/echoring/ring"
	"go.osspkg.com/echoring/server"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	casecheck.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestUnit_Default(t *testing.T) {
	c := config.Default()
	casecheck.Equal(t, "0.0.0.0:42390", c.Server.Address)
	casecheck.Equal(t, uint32(server.DefaultEntries), c.Server.Entries)
	casecheck.Equal(t, "", c.Metrics.Address)
	casecheck.NoError(t, c.Validate())
}

func TestUnit_Load(t *testing.T) {
	path := writeFile(t, `
server:
  address: 127.0.0.1:9000
  backend: epoll
  entries: 100
metrics:
  address: 127.0.0.1:9100
log:
  level: debug
`)
	c, err := config.Load(path)
	casecheck.NoError(t, err)
	casecheck.Equal(t, "127.0.0.1:9000", c.Server.Address)
	casecheck.Equal(t, ring.BackendEpoll, c.Server.Backend)
	casecheck.Equal(t, uint32(128), c.Server.Entries)
	casecheck.Equal(t, server.DefaultBacklog, c.Server.Backlog)
	casecheck.Equal(t, server.DefaultBufferSize, c.Server.BufferSize)
	casecheck.Equal(t, "127.0.0.1:9100", c.Metrics.Address)
	casecheck.NoError(t, c.ApplyLogLevel())
}

func TestUnit_LoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	casecheck.Error(t, err)

	_, err = config.Load(writeFile(t, "server: [broken"))
	casecheck.Error(t, err)

	_, err = config.Load(writeFile(t, "server:\n  backend: kqueue\n"))
	casecheck.Error(t, err)

	_, err = config.Load(writeFile(t, "log:\n  level: loud\n"))
	casecheck.Error(t, err)
}
