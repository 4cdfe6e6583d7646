/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

// Package config loads the echo server configuration from a yaml file.
package config

import (
	"fmt"
	"os"
	"strings"

	"go.osspkg.com/logx"
	"gopkg.in/yaml.v2"

	"go.osspkg.com/echoring/server"
)

type (
	Config struct {
		Server  server.Config `yaml:"server"`
		Metrics Metrics       `yaml:"metrics"`
		Log     Log           `yaml:"log"`
	}

	// Metrics is the address of the prometheus endpoint, empty disables it.
	Metrics struct {
		Address string `yaml:"address,omitempty"`
	}

	Log struct {
		Level string `yaml:"level,omitempty"`
	}
)

func Default() Config {
	c := Config{Log: Log{Level: "info"}}
	c.Server.Default()
	return c
}

// Load reads path over the defaults, fields missing from the file keep their default value.
func Load(path string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.Server.Default()
	return c, c.Validate()
}

func (c Config) Validate() error {
	if _, err := logLevel(c.Log.Level); err != nil {
		return err
	}
	return c.Server.Validate()
}

func (c Config) ApplyLogLevel() error {
	lvl, err := logLevel(c.Log.Level)
	if err != nil {
		return err
	}
	logx.SetLevel(lvl)
	return nil
}

func logLevel(name string) (uint32, error) {
	switch strings.ToLower(name) {
	case "debug":
		return logx.LevelDebug, nil
	case "", "info":
		return logx.LevelInfo, nil
	case "warn", "warning":
		return logx.LevelWarn, nil
	case "error":
		return logx.LevelError, nil
	default:
		return 0, fmt.Errorf("log level %q is unknown, use: debug, info, warn, error", name)
	}
}
