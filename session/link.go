// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/bureau-foundation/benchlink/transport"
	"github.com/bureau-foundation/benchlink/value"
)

// Action names a forwarded call.
type Action string

const (
	ActionConfigure  Action = "configure"
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
	ActionDestroy    Action = "destroy"
	ActionSend       Action = "send"
	ActionDownload   Action = "download"
	ActionAbort      Action = "abort"
	ActionDismiss    Action = "dismiss"
)

// Message is one fire-and-forget call forwarded to the context that
// owns an instrument's Connection.
type Message struct {
	Instrument string                `cbor:"instrument"`
	Action     Action                `cbor:"action"`
	Command    string                `cbor:"command,omitempty"`
	Options    SendOptions           `cbor:"options,omitempty"`
	Download   *DownloadInstructions `cbor:"download,omitempty"`
	Params     *transport.Params     `cbor:"params,omitempty"`
}

// UpdateType discriminates Update.
type UpdateType string

const (
	UpdateStatus UpdateType = "status"
	UpdateValue  UpdateType = "value"
)

// Update is one item on an instrument's update stream: a status change,
// or a value addressed to the owner handle that holds the session.
type Update struct {
	Type   UpdateType  `cbor:"type"`
	Status Status      `cbor:"status,omitempty"`
	Owner  string      `cbor:"owner,omitempty"`
	Value  value.Value `cbor:"value,omitempty"`
}

// Link carries a Proxy's calls to the owning context. [Host] is the
// in-process implementation; relay.Client carries it over a socket.
type Link interface {
	// Post forwards a call without waiting for it to run. Posts for
	// one instrument run in the order they were made.
	Post(message Message) error

	// Acquire and Release run in order with the posts and wait for the
	// result. handle identifies the acquiring proxy; values for it
	// arrive on the update stream.
	Acquire(ctx context.Context, instrument, handle string, trace bool) error
	Release(ctx context.Context, instrument, handle string) error

	// Watch streams updates for instrument, starting with the current
	// status. The channel closes when ctx ends, the session is
	// destroyed, or the watcher falls too far behind. handle names the
	// watching proxy: when the stream ends, an acquisition held under
	// the same handle is released. An empty handle holds nothing.
	Watch(ctx context.Context, instrument, handle string) (<-chan Update, error)
}
