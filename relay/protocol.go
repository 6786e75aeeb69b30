// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/benchlink/lib/codec"
	"github.com/bureau-foundation/benchlink/session"
	"github.com/bureau-foundation/benchlink/transport"
)

const (
	actionPost    = "post"
	actionAcquire = "acquire"
	actionRelease = "release"
	actionList    = "list"
	actionWatch   = "watch"
)

// request is the body of every relay action. Fields not used by an
// action are omitted.
type request struct {
	Action     string           `cbor:"action"`
	Instrument string           `cbor:"instrument,omitempty"`
	Message    *session.Message `cbor:"message,omitempty"`
	Handle     string           `cbor:"handle,omitempty"`
	Trace      bool             `cbor:"trace,omitempty"`
}

// Response is the envelope for every request/response action. Code
// carries a session.ErrorCode; Fault names a programming fault.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Code  string           `cbor:"code,omitempty"`
	Fault string           `cbor:"fault,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Frame types on a watch stream.
const (
	FrameUpdate    = "update"
	FrameHeartbeat = "heartbeat"
	FrameError     = "error"
)

// Frame is one value written on a watch stream.
type Frame struct {
	Type   string          `cbor:"type"`
	Update *session.Update `cbor:"update,omitempty"`
	Error  string          `cbor:"error,omitempty"`
	Code   string          `cbor:"code,omitempty"`
	Fault  string          `cbor:"fault,omitempty"`
}

// InstrumentInfo is one entry in the list response.
type InstrumentInfo struct {
	ID             string           `cbor:"id"`
	Role           session.Role     `cbor:"role"`
	Status         session.Status   `cbor:"status"`
	Identification string           `cbor:"identification,omitempty"`
	Params         transport.Params `cbor:"params"`
}

// faults maps fault names to the sentinels they stand for.
var faults = []struct {
	name string
	err  error
}{
	{"invalid_state", session.ErrInvalidState},
	{"no_operation", session.ErrNoOperation},
	{"destroyed", session.ErrDestroyed},
	{"not_owner", session.ErrNotOwner},
	{"unknown_instrument", session.ErrUnknownInstrument},
	{"duplicate_instrument", session.ErrDuplicateInstrument},
	{"host_closed", session.ErrHostClosed},
	{"canceled", context.Canceled},
	{"deadline_exceeded", context.DeadlineExceeded},
}

// classify returns the code and fault name that describe err on the
// wire. Both are empty for an error with no known classification.
func classify(err error) (code, fault string) {
	var sessionErr *session.Error
	if errors.As(err, &sessionErr) {
		return string(sessionErr.Code), ""
	}
	for _, known := range faults {
		if errors.Is(err, known.err) {
			return "", known.name
		}
	}
	return "", ""
}

// RemoteError is a failure reported by the relay server.
type RemoteError struct {
	Action  string
	Message string

	// Err is the sentinel named by the response's fault, or nil.
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("relay error on %q: %s", e.Action, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// remoteError rebuilds the error described by a failed response or an
// error frame.
func remoteError(action, message, code, fault string) error {
	if code != "" {
		return &session.Error{Code: session.ErrorCode(code), Message: message}
	}
	remote := &RemoteError{Action: action, Message: message}
	for _, known := range faults {
		if known.name == fault {
			remote.Err = known.err
			break
		}
	}
	return remote
}
