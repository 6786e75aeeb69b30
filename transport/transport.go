// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"log/slog"
)

// Handler receives the events of one Transport. A transport delivers
// events from its own goroutine, one at a time and in order, and never
// from inside a call to Connect, Disconnect or Write: the handler is
// free to call back into the transport.
//
// Every Connect that returns nil ends with exactly one Disconnected.
// Failed may precede it, and Connected and Received arrive only in
// between.
type Handler interface {
	Connected()
	Disconnected()
	Received(data []byte)
	Failed(err error)
}

// Transport is a byte-stream connection to one instrument.
type Transport interface {
	// Connect starts connecting. The outcome is reported through the
	// Handler; a non-nil return means no events will follow.
	Connect() error

	// Disconnect requests teardown. Disconnected follows.
	Disconnect() error

	// Write sends data. It fails when the stream is not open.
	Write(data []byte) error

	// Kind reports the medium.
	Kind() Kind
}

// DialFunc builds a Transport for params that reports to handler. It
// does not start connecting.
type DialFunc func(params Params, handler Handler) (Transport, error)

var (
	// ErrNotConnected is returned by Write and Disconnect when the
	// stream is not open.
	ErrNotConnected = errors.New("transport not connected")

	// ErrAlreadyStarted is returned by Connect on a transport that is
	// already connecting or connected.
	ErrAlreadyStarted = errors.New("transport already started")
)

// Dialer builds the production transports.
type Dialer struct {
	Logger *slog.Logger
}

// Dial returns a TCP transport for ethernet params and a serial
// transport for serial params.
func (d *Dialer) Dial(params Params, handler Handler) (Transport, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("transport", string(params.Kind), "address", params.String())
	switch params.Kind {
	case KindEthernet:
		return NewTCP(params.Host, params.Port, handler, logger), nil
	default:
		return NewSerial(params.Device, params.BaudRate, handler, logger), nil
	}
}
