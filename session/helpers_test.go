// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/lib/clock"
	"github.com/bureau-foundation/benchlink/lib/testutil"
	"github.com/bureau-foundation/benchlink/transport"
	"github.com/bureau-foundation/benchlink/value"
)

const identification = "ACME,DMM-100,0042,1.2.3"

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// collector is a Receiver that keeps everything it is given and also
// offers it on a channel for cross-goroutine tests.
type collector struct {
	mu       sync.Mutex
	values   []value.Value
	received chan value.Value
}

func newCollector() *collector {
	return &collector{received: make(chan value.Value, 256)}
}

func (c *collector) Receive(_ string, v value.Value) {
	c.mu.Lock()
	c.values = append(c.values, v)
	c.mu.Unlock()
	select {
	case c.received <- v:
	default:
	}
}

// take returns and forgets everything received so far.
func (c *collector) take() []value.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	values := c.values
	c.values = nil
	return values
}

// raws renders the raw lines of the values taken.
func (c *collector) raws() []string {
	values := c.take()
	raws := make([]string, len(values))
	for i, v := range values {
		raws[i] = string(v.Raw)
	}
	return raws
}

type identifiedRecorder struct {
	mu     sync.Mutex
	idents []string
}

func (r *identifiedRecorder) Identified(_ string, identification string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idents = append(r.idents, identification)
}

func (r *identifiedRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.idents...)
}

type harness struct {
	t          *testing.T
	id         string
	clock      *clock.FakeClock
	dialer     *transport.MemoryDialer
	ring       *activity.Ring
	sink       *collector
	instrument *identifiedRecorder
	connection *Connection
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:          t,
		id:         testutil.UniqueID("dmm"),
		clock:      clock.Fake(epoch),
		dialer:     &transport.MemoryDialer{},
		ring:       activity.NewRing(256),
		sink:       newCollector(),
		instrument: &identifiedRecorder{},
	}
	connection, err := NewConnection(h.id, Options{
		Params:     transport.Params{Kind: transport.KindEthernet, Host: "192.0.2.10", Port: 5025},
		Dial:       h.dialer.Dial,
		Clock:      h.clock,
		Recorder:   h.ring,
		Instrument: h.instrument,
		Sink:       h.sink,
	})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	h.connection = connection
	t.Cleanup(func() { connection.Destroy() })
	return h
}

// connect takes the connection to connected without answering the
// identification query.
func (h *harness) connect() *transport.Memory {
	h.t.Helper()
	if err := h.connection.Connect(); err != nil {
		h.t.Fatalf("Connect: %v", err)
	}
	memory := h.dialer.Last()
	memory.EmitConnected()
	if got := memory.TakeWritten(); got != IdentifyCommand+"\n" {
		h.t.Fatalf("written after connect = %q, want identification query", got)
	}
	return memory
}

// identify connects and completes the handshake.
func (h *harness) identify() *transport.Memory {
	h.t.Helper()
	memory := h.connect()
	memory.Emit(identification + "\n")
	h.requireState(StateConnected)
	if got := h.instrument.all(); len(got) == 0 || got[len(got)-1] != identification {
		h.t.Fatalf("identified = %v, want %q", got, identification)
	}
	return memory
}

func (h *harness) requireState(want State) {
	h.t.Helper()
	if got := h.connection.Status().State; got != want {
		h.t.Fatalf("state = %s, want %s", got, want)
	}
}

func (h *harness) requireError(want ErrorCode) {
	h.t.Helper()
	if got := h.connection.Status().ErrorCode; got != want {
		h.t.Fatalf("error code = %q, want %q (message %q)", got, want, h.connection.Status().Error)
	}
}

// entries returns the recorded activity of the given kind.
func (h *harness) entries(kind activity.Kind) []activity.Entry {
	var matched []activity.Entry
	for _, entry := range h.ring.Since(0) {
		if entry.Kind == kind {
			matched = append(matched, entry)
		}
	}
	return matched
}
