// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/lib/testutil"
	"github.com/bureau-foundation/benchlink/transport"
)

func TestNewConnectionRequiresDial(t *testing.T) {
	if _, err := NewConnection("dmm", Options{}); err == nil {
		t.Fatal("expected an error without a dial function")
	}
	if _, err := NewConnection("", Options{Dial: (&transport.MemoryDialer{}).Dial}); err == nil {
		t.Fatal("expected an error without an instrument id")
	}
}

func TestConnectionLifecycle(t *testing.T) {
	h := newHarness(t)
	h.requireState(StateIdle)
	if status := h.connection.Status(); status.Sequence != 0 {
		t.Fatalf("initial sequence = %d, want 0", status.Sequence)
	}

	if err := h.connection.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.requireState(StateConnecting)
	if h.dialer.Count() != 1 {
		t.Fatalf("dialed %d transports, want 1", h.dialer.Count())
	}
	memory := h.dialer.Last()
	if memory.Connects() != 1 {
		t.Fatalf("transport Connect called %d times, want 1", memory.Connects())
	}
	if _, connected := h.connection.ConnectedSince(); connected {
		t.Fatal("ConnectedSince reported a session while connecting")
	}

	memory.EmitConnected()
	h.requireState(StateConnected)
	if got := memory.TakeWritten(); got != "*IDN?\n" {
		t.Fatalf("written = %q, want identification query", got)
	}
	since, connected := h.connection.ConnectedSince()
	if !connected || !since.Equal(epoch) {
		t.Fatalf("ConnectedSince = %v, %v; want %v, true", since, connected, epoch)
	}

	memory.Emit(identification + "\n")
	if got := h.connection.Identification(); got != identification {
		t.Fatalf("Identification = %q, want %q", got, identification)
	}
	if got := h.instrument.all(); len(got) != 1 || got[0] != identification {
		t.Fatalf("instrument told %v, want [%q]", got, identification)
	}
	if values := h.sink.take(); len(values) != 0 {
		t.Fatalf("identification leaked to the sink: %v", values)
	}

	h.clock.Advance(90 * time.Second)
	if err := h.connection.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	h.requireState(StateDisconnecting)
	if memory.Disconnects() != 1 {
		t.Fatalf("transport Disconnect called %d times, want 1", memory.Disconnects())
	}
	memory.EmitDisconnected()
	h.requireState(StateIdle)
	h.requireError(ErrorNone)

	disconnected := h.entries(activity.KindDisconnected)
	if len(disconnected) != 1 || disconnected[0].Duration != 90*time.Second {
		t.Fatalf("disconnected entries = %+v, want one lasting 90s", disconnected)
	}
	if connectedEntries := h.entries(activity.KindConnected); len(connectedEntries) != 1 {
		t.Fatalf("connected entries = %d, want 1", len(connectedEntries))
	}
}

func TestConnectionReconnectClearsIdentification(t *testing.T) {
	h := newHarness(t)
	memory := h.identify()
	h.connection.Disconnect()
	memory.EmitDisconnected()

	h.connect()
	if got := h.connection.Identification(); got != "" {
		t.Fatalf("Identification after reconnect = %q, want empty", got)
	}
	if h.dialer.Count() != 2 {
		t.Fatalf("dialed %d transports, want 2", h.dialer.Count())
	}
}

func TestConnectOnlyFromIdle(t *testing.T) {
	h := newHarness(t)
	memory := h.connect()
	before := h.connection.Status()

	err := h.connection.Connect()
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Connect while connected = %v, want ErrInvalidState", err)
	}
	if h.dialer.Count() != 1 || memory.Connects() != 1 {
		t.Fatalf("second Connect reached the transport: dialed %d, connects %d", h.dialer.Count(), memory.Connects())
	}
	if after := h.connection.Status(); after != before {
		t.Fatalf("status changed from %+v to %+v", before, after)
	}

	h.connection.Disconnect()
	if err := h.connection.Connect(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Connect while disconnecting = %v, want ErrInvalidState", err)
	}
}

func TestDisconnectFromIdle(t *testing.T) {
	h := newHarness(t)
	if err := h.connection.Disconnect(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Disconnect while idle = %v, want ErrInvalidState", err)
	}
	h.requireState(StateIdle)
	h.requireError(ErrorNone)
}

func TestDisconnectWhileConnecting(t *testing.T) {
	h := newHarness(t)
	h.connection.Connect()
	memory := h.dialer.Last()
	if err := h.connection.Disconnect(); err != nil {
		t.Fatalf("Disconnect while connecting: %v", err)
	}
	h.requireState(StateDisconnecting)
	memory.EmitDisconnected()
	h.requireState(StateIdle)
	if failed := h.entries(activity.KindConnectFailed); len(failed) != 1 {
		t.Fatalf("connect_failed entries = %d, want 1", len(failed))
	}
	if disconnected := h.entries(activity.KindDisconnected); len(disconnected) != 0 {
		t.Fatalf("a session that never connected recorded a disconnect: %+v", disconnected)
	}
}

func TestConnectDialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailDial(errors.New("no route to host"))

	err := h.connection.Connect()
	var sessionErr *Error
	if !errors.As(err, &sessionErr) || sessionErr.Code != ErrorConnect {
		t.Fatalf("Connect = %v, want a connect error", err)
	}
	h.requireState(StateIdle)
	h.requireError(ErrorConnect)
	if failed := h.entries(activity.KindConnectFailed); len(failed) != 1 {
		t.Fatalf("connect_failed entries = %d, want 1", len(failed))
	}
}

func TestConnectTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailConnects(errors.New("port busy"))

	if err := h.connection.Connect(); err == nil {
		t.Fatal("Connect succeeded with a failing transport")
	}
	h.requireState(StateIdle)
	h.requireError(ErrorConnect)

	// The failed transport is forgotten: its late events change nothing.
	h.dialer.Last().EmitConnected()
	h.requireState(StateIdle)
}

func TestConnectClearsPreviousError(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailDial(errors.New("no route to host"))
	h.connection.Connect()
	h.requireError(ErrorConnect)

	h.dialer.FailDial(nil)
	h.connect()
	h.requireError(ErrorNone)
}

func TestIdentificationTimeout(t *testing.T) {
	h := newHarness(t)
	memory := h.connect()

	h.clock.Advance(999 * time.Millisecond)
	h.requireState(StateConnected)
	h.requireError(ErrorNone)

	h.clock.Advance(time.Millisecond)
	h.requireState(StateDisconnecting)
	h.requireError(ErrorIdentifyTimeout)
	if memory.Disconnects() != 1 {
		t.Fatalf("transport Disconnect called %d times, want 1", memory.Disconnects())
	}

	h.clock.Advance(5 * time.Second)
	if memory.Disconnects() != 1 {
		t.Fatalf("timeout fired again: Disconnect called %d times", memory.Disconnects())
	}

	memory.EmitDisconnected()
	h.requireState(StateIdle)
	h.requireError(ErrorIdentifyTimeout)
}

func TestIdentificationAnsweredStopsTimer(t *testing.T) {
	h := newHarness(t)
	memory := h.identify()
	h.clock.Advance(5 * time.Second)
	h.requireState(StateConnected)
	h.requireError(ErrorNone)
	if memory.Disconnects() != 0 {
		t.Fatalf("transport Disconnect called %d times, want 0", memory.Disconnects())
	}
}

func TestIdentificationRejectsNonText(t *testing.T) {
	h := newHarness(t)
	memory := h.connect()
	memory.Emit("42\n")

	h.requireState(StateDisconnecting)
	h.requireError(ErrorIdentifyResponse)
	if got := h.instrument.all(); len(got) != 0 {
		t.Fatalf("instrument told %v after a rejected response", got)
	}
	if values := h.sink.take(); len(values) != 0 {
		t.Fatalf("rejected identification reached the sink: %v", values)
	}
	// The answer is still part of the transcript.
	if responses := h.entries(activity.KindResponse); len(responses) != 1 || responses[0].Text != "42" {
		t.Fatalf("response entries = %+v, want the rejected line", responses)
	}
}

func TestIdentificationWriteFailure(t *testing.T) {
	h := newHarness(t)
	h.connection.Connect()
	memory := h.dialer.Last()
	memory.FailWrites(errors.New("broken pipe"))
	memory.EmitConnected()

	h.requireState(StateDisconnecting)
	h.requireError(ErrorConnect)
	if memory.Disconnects() != 1 {
		t.Fatalf("transport Disconnect called %d times, want 1", memory.Disconnects())
	}
}

func TestDataWhileConnectingIsDropped(t *testing.T) {
	h := newHarness(t)
	h.connection.Connect()
	memory := h.dialer.Last()
	memory.Emit("stray\n")
	memory.EmitConnected()
	memory.Emit(identification + "\n")

	if got := h.connection.Identification(); got != identification {
		t.Fatalf("Identification = %q, want %q", got, identification)
	}
	if values := h.sink.take(); len(values) != 0 {
		t.Fatalf("sink got %v, want nothing", values)
	}
}

func TestTransportFailure(t *testing.T) {
	h := newHarness(t)
	memory := h.identify()

	memory.EmitFailure(errors.New("connection reset by peer"))
	h.requireError(ErrorConnect)
	if errs := h.entries(activity.KindError); len(errs) != 1 {
		t.Fatalf("error entries = %d, want 1", len(errs))
	}

	memory.EmitDisconnected()
	h.requireState(StateIdle)
	h.requireError(ErrorConnect)
}

func TestStaleTransportEventsIgnored(t *testing.T) {
	h := newHarness(t)
	first := h.identify()
	h.connection.Disconnect()
	first.EmitDisconnected()

	second := h.connect()
	if first == second {
		t.Fatal("reconnect reused the old transport")
	}

	first.Emit("ghost\n")
	first.EmitDisconnected()
	first.EmitFailure(errors.New("late failure"))

	h.requireState(StateConnected)
	h.requireError(ErrorNone)
	second.Emit(identification + "\n")
	if values := h.sink.take(); len(values) != 0 {
		t.Fatalf("stale data reached the sink: %v", values)
	}
}

func TestDismissError(t *testing.T) {
	h := newHarness(t)
	memory := h.connect()
	h.clock.Advance(time.Second)
	h.requireError(ErrorIdentifyTimeout)

	if err := h.connection.DismissError(); err != nil {
		t.Fatalf("DismissError: %v", err)
	}
	h.requireError(ErrorNone)
	if status := h.connection.Status(); status.Error != "" || status.State != StateDisconnecting {
		t.Fatalf("status after dismiss = %+v, want disconnecting with no message", status)
	}
	memory.EmitDisconnected()
	h.requireState(StateIdle)
}

func TestConfigure(t *testing.T) {
	h := newHarness(t)
	serial := transport.Params{Kind: transport.KindSerial, Device: "/dev/ttyUSB0", BaudRate: 115200}
	if err := h.connection.Configure(serial); err != nil {
		t.Fatalf("Configure while idle: %v", err)
	}
	if got := h.connection.Params(); got != serial {
		t.Fatalf("Params = %+v, want %+v", got, serial)
	}

	h.connect()
	if err := h.connection.Configure(transport.Params{}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Configure while connected = %v, want ErrInvalidState", err)
	}
	if got := h.dialer.Last().Kind(); got != transport.KindSerial {
		t.Fatalf("dialed a %s transport, want serial", got)
	}
}

func TestStatusSubscription(t *testing.T) {
	h := newHarness(t)
	statuses, cancel := h.connection.Subscribe()
	defer cancel()

	first := testutil.RequireReceive(t, statuses, time.Second, "initial status")
	if first.State != StateIdle || first.Sequence != 0 {
		t.Fatalf("initial status = %+v", first)
	}

	h.connection.Connect()
	connecting := testutil.RequireReceive(t, statuses, time.Second, "connecting status")
	if connecting.State != StateConnecting || connecting.Sequence != 1 {
		t.Fatalf("status = %+v, want connecting at sequence 1", connecting)
	}

	h.dialer.Last().EmitConnected()
	connected := testutil.RequireReceive(t, statuses, time.Second, "connected status")
	if connected.State != StateConnected || connected.Sequence != 2 {
		t.Fatalf("status = %+v, want connected at sequence 2", connected)
	}

	// Nothing changed, so nothing is published.
	h.connection.DismissError()
	select {
	case status := <-statuses:
		t.Fatalf("unexpected status %+v", status)
	default:
	}

	cancel()
	testutil.RequireClosed(t, statuses, time.Second, "cancelled subscription")
}

func TestStatusSubscriptionLatestWins(t *testing.T) {
	h := newHarness(t)
	statuses, cancel := h.connection.Subscribe()
	defer cancel()

	h.connect()
	h.connection.Disconnect()
	status := testutil.RequireReceive(t, statuses, time.Second, "latest status")
	if status.State != StateDisconnecting || status.Sequence != 3 {
		t.Fatalf("status = %+v, want only the latest (disconnecting, 3)", status)
	}
}

func TestDestroy(t *testing.T) {
	h := newHarness(t)
	memory := h.identify()
	statuses, cancel := h.connection.Subscribe()
	defer cancel()

	if err := h.connection.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	testutil.RequireClosed(t, statuses, time.Second, "subscription after destroy")
	if memory.Disconnects() != 1 {
		t.Fatalf("transport Disconnect called %d times, want 1", memory.Disconnects())
	}
	if h.clock.PendingCount() != 0 {
		t.Fatalf("%d timers still pending after destroy", h.clock.PendingCount())
	}

	memory.Emit("late\n")
	if values := h.sink.take(); len(values) != 0 {
		t.Fatalf("destroyed session delivered %v", values)
	}

	for name, call := range map[string]func() error{
		"Connect":      h.connection.Connect,
		"Disconnect":   h.connection.Disconnect,
		"DismissError": h.connection.DismissError,
		"Send":         func() error { return h.connection.Send("*RST", SendOptions{}) },
	} {
		if err := call(); !errors.Is(err, ErrDestroyed) {
			t.Errorf("%s after destroy = %v, want ErrDestroyed", name, err)
		}
	}

	late, _ := h.connection.Subscribe()
	testutil.RequireClosed(t, late, time.Second, "subscription made after destroy")

	if err := h.connection.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
}
