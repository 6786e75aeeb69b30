// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.bug.st/serial"
)

// Serial is an RS-232 or USB-serial instrument connection, 8N1.
type Serial struct {
	stream
}

var _ Transport = (*Serial)(nil)

// NewSerial returns a transport for device at baudRate (0 selects
// [DefaultBaudRate]). The port is not opened until Connect is called.
func NewSerial(device string, baudRate int, handler Handler, logger *slog.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return &Serial{stream: stream{
		kind:    KindSerial,
		address: device,
		handler: handler,
		logger:  logger,
		open: func(ctx context.Context) (io.ReadWriteCloser, error) {
			port, err := serial.Open(device, mode)
			if err != nil {
				return nil, fmt.Errorf("opening serial port: %w", err)
			}
			if ctx.Err() != nil {
				port.Close()
				return nil, ctx.Err()
			}
			return port, nil
		},
	}}
}
