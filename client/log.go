package client

import (
	"go.osspkg.com/logx"

	"go.osspkg.com/echoring/internal"
)

func writeLog(err error, message, network, address string) {
	if err = internal.NormalCloseError(err); err == nil {
		return
	}
	logx.Error(message, "err", err, "network", network, "address", address)
}
