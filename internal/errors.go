/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package internal

import (
	"net"

	"go.osspkg.com/errors"
	"go.osspkg.com/logx"

	"go.osspkg.com/echoring/errs"
)

var (
	ErrServAlreadyRunning = errors.New("server already running")
)

func NormalCloseError(err error) error {
	if errs.IsClosed(err) {
		return nil
	}
	return err
}

func WriteErrLog(message string, err error, addr net.Addr) {
	if err == nil || errs.IsClosed(err) {
		return
	}
	logx.Warn(message, "err", err, "addr", addr)
}
