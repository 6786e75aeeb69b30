// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/benchlink/lib/testutil"
	"github.com/bureau-foundation/benchlink/transport"
	"github.com/bureau-foundation/benchlink/value"
)

// scriptedLink is a Link whose update stream the test writes directly.
type scriptedLink struct {
	updates chan Update

	mu       sync.Mutex
	posts    []Message
	acquires []string
	releases []string
	watches  []string
	acquire  error
}

func newScriptedLink() *scriptedLink {
	return &scriptedLink{updates: make(chan Update, 16)}
}

func (l *scriptedLink) Post(message Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.posts = append(l.posts, message)
	return nil
}

func (l *scriptedLink) Acquire(_ context.Context, _, handle string, _ bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquire != nil {
		return l.acquire
	}
	l.acquires = append(l.acquires, handle)
	return nil
}

func (l *scriptedLink) Release(_ context.Context, _, handle string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases = append(l.releases, handle)
	return nil
}

func (l *scriptedLink) Watch(ctx context.Context, _, handle string) (<-chan Update, error) {
	l.mu.Lock()
	l.watches = append(l.watches, handle)
	l.mu.Unlock()
	out := make(chan Update)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-l.updates:
				if !ok {
					return
				}
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (l *scriptedLink) released() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.releases...)
}

func (l *scriptedLink) messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.posts...)
}

func statusUpdate(sequence uint64, state State) Update {
	return Update{Type: UpdateStatus, Status: Status{Sequence: sequence, State: state}}
}

func TestProxyIgnoresStaleStatus(t *testing.T) {
	link := newScriptedLink()
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	defer proxy.Close()

	link.updates <- statusUpdate(3, StateConnected)
	testutil.RequireClosed(t, proxy.Synced(), time.Second, "first status")
	link.updates <- statusUpdate(2, StateIdle)
	link.updates <- statusUpdate(4, StateDisconnecting)

	testutil.RequireEventually(t, time.Second, func() bool {
		return proxy.Status().Sequence == 4
	}, "waiting for sequence 4")
	if state := proxy.Status().State; state != StateDisconnecting {
		t.Fatalf("state = %s, want disconnecting", state)
	}
}

func TestProxyForwardsCalls(t *testing.T) {
	link := newScriptedLink()
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	defer proxy.Close()

	params := transport.Params{Kind: transport.KindEthernet, Host: "192.0.2.7", Port: 5025}
	proxy.Configure(params)
	proxy.Connect()
	proxy.Send("MEAS?", SendOptions{Silent: true})
	proxy.Download(DownloadInstructions{Command: "DATA ", Data: []byte{1, 2}})
	proxy.AbortLongOperation()
	proxy.DismissError()
	proxy.Disconnect()

	messages := link.messages()
	wantActions := []Action{ActionConfigure, ActionConnect, ActionSend, ActionDownload, ActionAbort, ActionDismiss, ActionDisconnect}
	if len(messages) != len(wantActions) {
		t.Fatalf("posted %d messages, want %d", len(messages), len(wantActions))
	}
	for i, message := range messages {
		if message.Action != wantActions[i] || message.Instrument != "dmm" {
			t.Fatalf("message %d = %+v, want %s for dmm", i, message, wantActions[i])
		}
	}
	if *messages[0].Params != params {
		t.Fatalf("configure params = %+v", *messages[0].Params)
	}
	if messages[2].Command != "MEAS?" || !messages[2].Options.Silent {
		t.Fatalf("send message = %+v", messages[2])
	}
	if messages[3].Download == nil || messages[3].Download.Command != "DATA " {
		t.Fatalf("download message = %+v", messages[3])
	}
	// Status is only ever mirrored, never set by a forwarded call.
	if state := proxy.Status().State; state != StateIdle {
		t.Fatalf("state = %s, want idle until the owner reports", state)
	}
}

func TestProxyRoutesValuesByHandle(t *testing.T) {
	link := newScriptedLink()
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	defer proxy.Close()

	owner := newCollector()
	if err := proxy.Acquire(context.Background(), owner, true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := proxy.Acquire(context.Background(), newCollector(), true); !errors.Is(err, ErrAlreadyAcquired) {
		t.Fatalf("second Acquire = %v, want ErrAlreadyAcquired", err)
	}
	handle := link.acquires[0]

	link.updates <- Update{Type: UpdateValue, Owner: "somebody-else", Value: value.Text("no")}
	link.updates <- Update{Type: UpdateValue, Owner: handle, Value: value.Text("yes")}
	got := testutil.RequireReceive(t, owner.received, time.Second, "owner value")
	if got.Text != "yes" {
		t.Fatalf("owner got %+v, want only its own value", got)
	}

	if err := proxy.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(link.releases) != 1 || link.releases[0] != handle {
		t.Fatalf("releases = %v, want [%s]", link.releases, handle)
	}
}

func TestProxyAcquireFailureClearsOwner(t *testing.T) {
	link := newScriptedLink()
	link.acquire = ErrNotConnected
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	defer proxy.Close()

	if err := proxy.Acquire(context.Background(), newCollector(), true); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Acquire = %v, want ErrNotConnected", err)
	}
	link.acquire = nil
	if err := proxy.Acquire(context.Background(), newCollector(), true); err != nil {
		t.Fatalf("Acquire after a failed attempt: %v", err)
	}
}

func TestProxyCloseStopsMirroring(t *testing.T) {
	link := newScriptedLink()
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	statuses, _ := proxy.Subscribe()
	proxy.Close()

	testutil.RequireClosed(t, proxy.Done(), time.Second, "mirror loop")
	testutil.RequireClosed(t, statuses, time.Second, "subscription")
	if err := proxy.Connect(); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Connect after Close = %v, want ErrDestroyed", err)
	}
}

func TestProxyAcquiresUnderItsWatchHandle(t *testing.T) {
	link := newScriptedLink()
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	defer proxy.Close()

	for range 2 {
		if err := proxy.Acquire(context.Background(), newCollector(), true); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := proxy.Release(context.Background()); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
	if len(link.watches) != 1 || link.watches[0] == "" {
		t.Fatalf("watches = %v, want one handle", link.watches)
	}
	for _, handle := range append(link.acquires, link.releases...) {
		if handle != link.watches[0] {
			t.Fatalf("acquires %v and releases %v, want every call under watch handle %s",
				link.acquires, link.releases, link.watches[0])
		}
	}
}

func TestProxyCloseReleasesHeldSession(t *testing.T) {
	link := newScriptedLink()
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	if err := proxy.Acquire(context.Background(), newCollector(), true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := proxy.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if released := link.released(); len(released) != 1 || released[0] != link.acquires[0] {
		t.Fatalf("releases after Close = %v, want [%s]", released, link.acquires[0])
	}
}

func TestProxyCloseWithoutHoldDoesNotRelease(t *testing.T) {
	link := newScriptedLink()
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	if err := proxy.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if released := link.released(); len(released) != 0 {
		t.Fatalf("releases after Close = %v, want none", released)
	}
}

func TestProxyAcquireRequiresOwner(t *testing.T) {
	link := newScriptedLink()
	proxy, err := NewProxy(context.Background(), "dmm", link, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}
	defer proxy.Close()
	if err := proxy.Acquire(context.Background(), nil, true); !errors.Is(err, ErrNoOwner) {
		t.Fatalf("Acquire(nil) = %v, want ErrNoOwner", err)
	}
	if len(link.acquires) != 0 {
		t.Fatalf("acquires = %v, want none forwarded", link.acquires)
	}
}
