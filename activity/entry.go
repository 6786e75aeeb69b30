// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"fmt"
	"time"
)

// Kind classifies an Entry.
type Kind string

const (
	KindRequest       Kind = "request"
	KindResponse      Kind = "response"
	KindConnected     Kind = "connected"
	KindDisconnected  Kind = "disconnected"
	KindConnectFailed Kind = "connect_failed"
	KindError         Kind = "error"
	KindTransfer      Kind = "transfer"
)

// Entry is one recorded event.
type Entry struct {
	Time       time.Time `json:"time"`
	Instrument string    `json:"instrument"`
	Kind       Kind      `json:"kind"`

	// Text is the command, the response line, or the error message.
	Text string `json:"text,omitempty"`

	// Duration is the length of the session for KindDisconnected.
	Duration time.Duration `json:"duration,omitempty"`

	// Bytes and Digest describe the payload of a KindTransfer entry.
	// Digest is the hex BLAKE3 hash of the payload.
	Bytes  int    `json:"bytes,omitempty"`
	Digest string `json:"digest,omitempty"`
}

// String renders e on one line for consoles and logs.
func (e Entry) String() string {
	stamp := e.Time.Format("15:04:05.000")
	switch e.Kind {
	case KindDisconnected:
		return fmt.Sprintf("%s %s %s after %s", stamp, e.Instrument, e.Kind, e.Duration.Round(time.Millisecond))
	case KindTransfer:
		return fmt.Sprintf("%s %s %s %s %d bytes blake3:%s", stamp, e.Instrument, e.Kind, e.Text, e.Bytes, e.Digest)
	case KindConnected:
		return fmt.Sprintf("%s %s %s", stamp, e.Instrument, e.Kind)
	default:
		return fmt.Sprintf("%s %s %s %q", stamp, e.Instrument, e.Kind, e.Text)
	}
}

// Recorder accepts entries. Record must not block.
type Recorder interface {
	Record(entry Entry)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(Entry) {}

// Multi records each entry to every recorder in order.
type Multi []Recorder

func (m Multi) Record(entry Entry) {
	for _, recorder := range m {
		recorder.Record(entry)
	}
}

var (
	_ Recorder = Nop{}
	_ Recorder = Multi(nil)
	_ Recorder = (*LogRecorder)(nil)
	_ Recorder = (*Ring)(nil)
	_ Recorder = (*Journal)(nil)
)
