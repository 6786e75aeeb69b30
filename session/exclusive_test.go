// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/bureau-foundation/benchlink/activity"
)

func TestAcquireRoutesToOwner(t *testing.T) {
	h := newHarness(t)
	memory := h.identify()
	owner := newCollector()

	if err := h.connection.Acquire(context.Background(), owner, true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !h.connection.Acquired() {
		t.Fatal("Acquired reported false")
	}
	memory.Emit("1\n")
	if raws := owner.raws(); !slices.Equal(raws, []string{"1\n"}) {
		t.Fatalf("owner got %q", raws)
	}
	if values := h.sink.take(); len(values) != 0 {
		t.Fatalf("sink got %v while acquired", values)
	}

	if err := h.connection.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	memory.Emit("2\n")
	if raws := h.sink.raws(); !slices.Equal(raws, []string{"2\n"}) {
		t.Fatalf("sink got %q after release", raws)
	}
	if values := owner.take(); len(values) != 0 {
		t.Fatalf("released owner got %v", values)
	}
}

func TestAcquireWithoutTrace(t *testing.T) {
	h := newHarness(t)
	memory := h.identify()
	before := h.ring.Next()

	h.connection.Acquire(context.Background(), newCollector(), false)
	if h.connection.Tracing() {
		t.Fatal("tracing still on")
	}
	h.connection.Send("FETC?", SendOptions{})
	memory.Emit("3.14\n")
	for _, entry := range h.ring.Since(before) {
		if entry.Kind == activity.KindRequest || entry.Kind == activity.KindResponse {
			t.Fatalf("recorded %+v with tracing off", entry)
		}
	}

	h.connection.Release(context.Background())
	if !h.connection.Tracing() {
		t.Fatal("Release did not restore tracing")
	}
	h.connection.Send("FETC?", SendOptions{})
	if requests := h.entries(activity.KindRequest); requests[len(requests)-1].Text != "FETC?" {
		t.Fatalf("request not recorded after release: %+v", requests)
	}
}

func TestAcquireRequiresConnected(t *testing.T) {
	h := newHarness(t)
	err := h.connection.Acquire(context.Background(), newCollector(), true)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Acquire while idle = %v, want ErrNotConnected", err)
	}
	if h.connection.Acquired() {
		t.Fatal("acquired while idle")
	}
}

func TestDoubleAcquireRejected(t *testing.T) {
	h := newHarness(t)
	h.identify()
	first := newCollector()
	h.connection.Acquire(context.Background(), first, true)

	err := h.connection.Acquire(context.Background(), newCollector(), true)
	if !errors.Is(err, ErrAlreadyAcquired) {
		t.Fatalf("second Acquire = %v, want ErrAlreadyAcquired", err)
	}
	h.requireError(ErrorAcquired)

	h.dialer.Last().Emit("1\n")
	if values := first.take(); len(values) != 1 {
		t.Fatalf("first owner lost the session: %v", values)
	}
}

func TestAcquireSurvivesDisconnect(t *testing.T) {
	h := newHarness(t)
	memory := h.identify()
	owner := newCollector()
	h.connection.Acquire(context.Background(), owner, true)

	memory.Emit("TAIL")
	h.connection.Disconnect()
	memory.EmitDisconnected()
	if !h.connection.Acquired() {
		t.Fatal("disconnect released the session")
	}
	if raws := owner.raws(); !slices.Equal(raws, []string{"TAIL"}) {
		t.Fatalf("owner got %q, want the flushed TAIL", raws)
	}

	memory = h.identify()
	memory.Emit("again\n")
	if values := owner.take(); len(values) != 1 {
		t.Fatalf("owner got %v after reconnect", values)
	}
}

func TestReleaseUnheld(t *testing.T) {
	h := newHarness(t)
	if err := h.connection.Release(context.Background()); err != nil {
		t.Fatalf("Release of an unheld session: %v", err)
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.identify()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.connection.Acquire(ctx, newCollector(), true); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire = %v, want context.Canceled", err)
	}
	if h.connection.Acquired() {
		t.Fatal("cancelled Acquire took the session")
	}
}

func TestAcquireRequiresOwner(t *testing.T) {
	h := newHarness(t)
	h.identify()

	if err := h.connection.Acquire(context.Background(), nil, false); !errors.Is(err, ErrNoOwner) {
		t.Fatalf("Acquire(nil) = %v, want ErrNoOwner", err)
	}
	if h.connection.Acquired() {
		t.Fatal("a nil owner acquired the session")
	}
	if !h.connection.Tracing() {
		t.Fatal("a refused Acquire changed tracing")
	}
	if err := h.connection.Acquire(context.Background(), newCollector(), true); err != nil {
		t.Fatalf("Acquire after a nil owner was refused: %v", err)
	}
}

func TestReleaseOwnerOnlyReleasesItsHold(t *testing.T) {
	h := newHarness(t)
	h.identify()
	first, second := newCollector(), newCollector()

	if err := h.connection.Acquire(context.Background(), first, false); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.connection.ReleaseOwner(context.Background(), second); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("ReleaseOwner by another owner = %v, want ErrNotOwner", err)
	}
	if !h.connection.Acquired() {
		t.Fatal("ReleaseOwner by another owner released the session")
	}
	if err := h.connection.ReleaseOwner(context.Background(), first); err != nil {
		t.Fatalf("ReleaseOwner: %v", err)
	}
	if h.connection.Acquired() || !h.connection.Tracing() {
		t.Fatalf("after ReleaseOwner: acquired %v, tracing %v", h.connection.Acquired(), h.connection.Tracing())
	}
	if err := h.connection.ReleaseOwner(context.Background(), first); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("second ReleaseOwner = %v, want ErrNotOwner", err)
	}
}
