// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/benchlink/lib/testutil"
	"github.com/bureau-foundation/benchlink/transport"
)

// hosted is one owned Connection served by a Host, plus a Proxy
// mirroring it.
type hosted struct {
	*harness
	registry *Registry
	host     *Host
	proxy    *Proxy
}

func newHosted(t *testing.T) *hosted {
	t.Helper()
	h := newHarness(t)
	registry := NewRegistry()
	if err := registry.Add(h.connection, RoleOwner); err != nil {
		t.Fatalf("Add: %v", err)
	}
	host := NewHost(registry, nil)
	t.Cleanup(host.Close)
	proxy, err := NewProxy(context.Background(), h.id, host, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	t.Cleanup(func() { proxy.Close() })
	testutil.RequireClosed(t, proxy.Synced(), time.Second, "proxy sync")
	return &hosted{harness: h, registry: registry, host: host, proxy: proxy}
}

func (s *hosted) waitProxyState(want State) {
	s.t.Helper()
	testutil.RequireEventually(s.t, time.Second, func() bool {
		return s.proxy.Status().State == want
	}, "waiting for proxy state %s", want)
}

// identifyThroughProxy connects via the proxy and answers the
// handshake on the owner's transport.
func (s *hosted) identifyThroughProxy() *transport.Memory {
	s.t.Helper()
	if err := s.proxy.Connect(); err != nil {
		s.t.Fatalf("proxy Connect: %v", err)
	}
	testutil.RequireEventually(s.t, time.Second, func() bool {
		return s.dialer.Count() == 1
	}, "waiting for the owner to dial")
	memory := s.dialer.Last()
	memory.EmitConnected()
	memory.Emit(identification + "\n")
	s.waitProxyState(StateConnected)
	return memory
}

func TestHostMirrorsStatus(t *testing.T) {
	s := newHosted(t)
	statuses, cancel := s.proxy.Subscribe()
	defer cancel()

	memory := s.identifyThroughProxy()
	if got := s.proxy.Status(); got != s.connection.Status() {
		t.Fatalf("proxy status %+v, owner status %+v", got, s.connection.Status())
	}

	s.proxy.Disconnect()
	testutil.RequireEventually(t, time.Second, func() bool {
		return memory.Disconnects() == 1
	}, "waiting for the forwarded disconnect")
	memory.EmitDisconnected()
	s.waitProxyState(StateIdle)

	var last uint64
	for drained := false; !drained; {
		select {
		case status := <-statuses:
			if status.Sequence < last {
				t.Fatalf("sequence went backwards: %d after %d", status.Sequence, last)
			}
			last = status.Sequence
		default:
			drained = true
		}
	}
}

func TestHostForwardsInOrder(t *testing.T) {
	s := newHosted(t)
	memory := s.identifyThroughProxy()
	memory.TakeWritten()

	for _, command := range []string{"A", "B", "C", "D"} {
		s.proxy.Send(command, SendOptions{})
	}
	testutil.RequireEventually(t, time.Second, func() bool {
		return memory.Written() == "A\nB\nC\nD\n"
	}, "waiting for forwarded sends, have %q", memory.Written())
}

func TestHostAcquireThroughProxy(t *testing.T) {
	s := newHosted(t)
	memory := s.identifyThroughProxy()
	owner := newCollector()

	if err := s.proxy.Acquire(context.Background(), owner, true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !s.connection.Acquired() {
		t.Fatal("owner's Connection not acquired")
	}
	memory.Emit("2.5\n")
	got := testutil.RequireReceive(t, owner.received, time.Second, "value through the proxy")
	if got.Number != 2.5 {
		t.Fatalf("owner got %+v", got)
	}
	if values := s.sink.take(); len(values) != 0 {
		t.Fatalf("default sink got %v while acquired", values)
	}

	other, err := NewProxy(context.Background(), s.id, s.host, nil)
	if err != nil {
		t.Fatalf("second NewProxy: %v", err)
	}
	defer other.Close()
	if err := other.Acquire(context.Background(), newCollector(), true); !errors.Is(err, ErrAlreadyAcquired) {
		t.Fatalf("Acquire from a second proxy = %v, want ErrAlreadyAcquired", err)
	}
	if err := s.host.Release(context.Background(), s.id, "not-the-owner"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Release by a stranger = %v, want ErrNotOwner", err)
	}

	if err := s.proxy.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if s.connection.Acquired() {
		t.Fatal("owner's Connection still acquired")
	}
	memory.Emit("3\n")
	if values := s.sink.take(); len(values) != 1 {
		t.Fatalf("default sink got %v after release", values)
	}
}

func TestHostAcquireNotConnected(t *testing.T) {
	s := newHosted(t)
	err := s.proxy.Acquire(context.Background(), newCollector(), true)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Acquire while idle = %v, want ErrNotConnected", err)
	}
}

func TestHostDestroyThroughProxy(t *testing.T) {
	s := newHosted(t)
	memory := s.identifyThroughProxy()

	watcher, err := s.host.Watch(context.Background(), s.id, "")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := s.proxy.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	testutil.RequireClosed(t, s.proxy.Done(), time.Second, "proxy after destroy")
	testutil.RequireClosed(t, watcher, time.Second, "host watcher after destroy")
	if memory.Disconnects() != 1 {
		t.Fatalf("transport Disconnect called %d times, want 1", memory.Disconnects())
	}
	if _, _, ok := s.registry.Get(s.id); ok {
		t.Fatal("destroyed instrument still registered")
	}
	testutil.RequireEventually(t, time.Second, func() bool {
		_, err := s.host.Watch(context.Background(), s.id, "")
		return errors.Is(err, ErrUnknownInstrument)
	}, "waiting for the host to forget the instrument")
}

func TestHostUnknownInstrument(t *testing.T) {
	host := NewHost(NewRegistry(), nil)
	defer host.Close()
	if _, err := NewProxy(context.Background(), "nope", host, nil); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("NewProxy = %v, want ErrUnknownInstrument", err)
	}
	if err := host.Post(Message{Instrument: "nope", Action: ActionConnect}); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("Post = %v, want ErrUnknownInstrument", err)
	}
}

func TestHostClose(t *testing.T) {
	s := newHosted(t)
	s.host.Close()
	testutil.RequireClosed(t, s.proxy.Done(), time.Second, "proxy after host close")
	if err := s.host.Post(Message{Instrument: s.id, Action: ActionConnect}); !errors.Is(err, ErrHostClosed) {
		t.Fatalf("Post after Close = %v, want ErrHostClosed", err)
	}
	// The Connection itself is untouched.
	if err := s.connection.Connect(); err != nil {
		t.Fatalf("Connect after host close: %v", err)
	}
}

func TestHostProxyCloseReleasesHold(t *testing.T) {
	s := newHosted(t)
	memory := s.identifyThroughProxy()

	if err := s.proxy.Acquire(context.Background(), newCollector(), true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := s.proxy.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.connection.Acquired() {
		t.Fatal("owner's Connection still acquired after the proxy closed")
	}
	memory.Emit("1.5\n")
	if values := s.sink.take(); len(values) != 1 {
		t.Fatalf("default sink got %v after the proxy closed", values)
	}

	other, err := NewProxy(context.Background(), s.id, s.host, nil)
	if err != nil {
		t.Fatalf("second NewProxy: %v", err)
	}
	defer other.Close()
	if err := other.Acquire(context.Background(), newCollector(), true); err != nil {
		t.Fatalf("Acquire from a second proxy: %v", err)
	}
}

func TestHostReleasesHoldWhenWatchEnds(t *testing.T) {
	s := newHosted(t)
	s.identifyThroughProxy()

	watchCtx, cancel := context.WithCancel(context.Background())
	updates, err := s.host.Watch(watchCtx, s.id, "vanishing")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := s.host.Acquire(context.Background(), s.id, "vanishing", true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !s.connection.Acquired() {
		t.Fatal("Connection not acquired")
	}

	cancel()
	testutil.RequireClosed(t, updates, time.Second, "watch after cancel")
	testutil.RequireEventually(t, time.Second, func() bool {
		return !s.connection.Acquired()
	}, "waiting for the hold of the ended watch to be released")
	if err := s.host.Release(context.Background(), s.id, "vanishing"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Release after the watch ended = %v, want ErrNotOwner", err)
	}
}

func TestHostWatchEndKeepsOtherHolds(t *testing.T) {
	s := newHosted(t)
	s.identifyThroughProxy()

	if err := s.proxy.Acquire(context.Background(), newCollector(), true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	updates, err := s.host.Watch(watchCtx, s.id, "bystander")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	cancel()
	testutil.RequireClosed(t, updates, time.Second, "watch after cancel")

	// A round trip through the queue runs after the queued release.
	if err := s.host.Release(context.Background(), s.id, "bystander"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Release by the bystander = %v, want ErrNotOwner", err)
	}
	if !s.connection.Acquired() {
		t.Fatal("a different watch ending released the proxy's hold")
	}
}

func TestHostStaleReleaseKeepsLocalOwner(t *testing.T) {
	s := newHosted(t)
	memory := s.identifyThroughProxy()

	if err := s.proxy.Acquire(context.Background(), newCollector(), true); err != nil {
		t.Fatalf("proxy Acquire: %v", err)
	}
	// The owning context takes the session back and holds it itself.
	if err := s.connection.Release(context.Background()); err != nil {
		t.Fatalf("local Release: %v", err)
	}
	local := newCollector()
	if err := s.connection.Acquire(context.Background(), local, true); err != nil {
		t.Fatalf("local Acquire: %v", err)
	}

	if err := s.proxy.Release(context.Background()); err != nil {
		t.Fatalf("proxy Release: %v", err)
	}
	if !s.connection.Acquired() {
		t.Fatal("a stale remote release dropped the local owner")
	}
	memory.Emit("4\n")
	got := testutil.RequireReceive(t, local.received, time.Second, "value for the local owner")
	if got.Number != 4 {
		t.Fatalf("local owner got %+v", got)
	}
}
