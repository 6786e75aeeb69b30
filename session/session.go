// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/bureau-foundation/benchlink/transport"
	"github.com/bureau-foundation/benchlink/value"
)

// Session is the contract callers use, whether the session is owned
// here ([Connection]) or mirrored from another context ([Proxy]).
type Session interface {
	ID() string
	Configure(params transport.Params) error
	Connect() error
	Disconnect() error
	Destroy() error
	Send(command string, options SendOptions) error
	Download(instructions DownloadInstructions) error
	AbortLongOperation() error
	Acquire(ctx context.Context, owner Receiver, trace bool) error
	Release(ctx context.Context) error
	DismissError() error
	Status() Status

	// Subscribe returns a channel holding the current status and then
	// each later one, latest-wins, and a function that ends the
	// subscription and closes the channel.
	Subscribe() (<-chan Status, func())
}

// Receiver accepts values delivered by a session: the default sink for
// everything, or an exclusive owner while the session is acquired.
type Receiver interface {
	Receive(instrumentID string, v value.Value)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(instrumentID string, v value.Value)

// Receive calls f.
func (f ReceiverFunc) Receive(instrumentID string, v value.Value) {
	f(instrumentID, v)
}

// Instrument is told the identification string once the handshake
// completes.
type Instrument interface {
	Identified(instrumentID, identification string)
}

// SendOptions modify a command send.
type SendOptions struct {
	// Silent keeps the command out of the activity record.
	Silent bool `cbor:"silent,omitempty"`

	// LongOperation marks a command that belongs to an active long
	// operation and so may be sent while one is in progress.
	LongOperation bool `cbor:"long_operation,omitempty"`
}

// DownloadInstructions describe a client-to-instrument block transfer:
// Command is written first, immediately followed by Data as a
// definite-length block, then a newline.
type DownloadInstructions struct {
	Command string `cbor:"command"`
	Data    []byte `cbor:"data"`

	// ChunkSize is how many payload bytes each housekeeping tick
	// writes. Zero selects the session's configured default.
	ChunkSize int `cbor:"chunk_size,omitempty"`
}

var (
	_ Session = (*Connection)(nil)
	_ Session = (*Proxy)(nil)
)
