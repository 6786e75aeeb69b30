// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// DialTimeout bounds the TCP connect phase.
const DialTimeout = 5 * time.Second

// TCP is a raw-socket instrument connection.
type TCP struct {
	stream
}

var _ Transport = (*TCP)(nil)

// NewTCP returns a transport for host:port. It does not connect until
// Connect is called.
func NewTCP(host string, port int, handler Handler, logger *slog.Logger) *TCP {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	return &TCP{stream: stream{
		kind:    KindEthernet,
		address: address,
		handler: handler,
		logger:  logger,
		open: func(ctx context.Context) (io.ReadWriteCloser, error) {
			dialer := net.Dialer{Timeout: DialTimeout}
			return dialer.DialContext(ctx, "tcp", address)
		},
	}}
}
