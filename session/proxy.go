// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/benchlink/transport"
)

// CloseReleaseTimeout bounds the release Close sends for a session
// the proxy still holds.
const CloseReleaseTimeout = 2 * time.Second

// Proxy is a Session whose Connection lives in another context. It
// owns no transport: calls are forwarded over a Link, and the status is
// mirrored from the owner's update stream, never set locally.
//
// A proxy acquires under one handle for its whole life. The owning
// context ties that handle to the proxy's update stream, so a hold
// ends when the proxy goes away even if Release is never called.
type Proxy struct {
	id     string
	link   Link
	handle string
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	synced chan struct{}

	mu        sync.Mutex
	status    Status
	hasStatus bool
	feed      statusFeed
	owner     Receiver
	closed    bool
}

// NewProxy starts mirroring instrument id over link. Mirroring lasts
// until ctx ends, Close or Destroy is called, or the owner's session
// goes away.
func NewProxy(ctx context.Context, id string, link Link, logger *slog.Logger) (*Proxy, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	handle := uuid.NewString()
	watchCtx, cancel := context.WithCancel(ctx)
	updates, err := link.Watch(watchCtx, id, handle)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watching %s: %w", id, err)
	}
	p := &Proxy{
		id:     id,
		link:   link,
		handle: handle,
		logger: logger.With("instrument", id, "role", string(RoleMirror), "handle", handle),
		cancel: cancel,
		done:   make(chan struct{}),
		synced: make(chan struct{}),
		status: Status{State: StateIdle},
	}
	go p.mirror(updates)
	return p, nil
}

// ID returns the instrument identifier.
func (p *Proxy) ID() string {
	return p.id
}

// Synced is closed once the first status from the owner has arrived.
func (p *Proxy) Synced() <-chan struct{} {
	return p.synced
}

// Done is closed when mirroring has stopped.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

func (p *Proxy) mirror(updates <-chan Update) {
	defer close(p.done)
	for update := range updates {
		switch update.Type {
		case UpdateStatus:
			p.mu.Lock()
			if !p.hasStatus || update.Status.Sequence > p.status.Sequence {
				if !p.hasStatus {
					close(p.synced)
				}
				p.hasStatus = true
				p.status = update.Status
				p.feed.publish(update.Status)
			}
			p.mu.Unlock()
		case UpdateValue:
			p.mu.Lock()
			owner := p.owner
			p.mu.Unlock()
			if owner != nil && update.Owner == p.handle {
				owner.Receive(p.id, update.Value)
			}
		}
	}
	p.logger.Debug("update stream ended")
	p.mu.Lock()
	p.closed = true
	p.feed.closeAll()
	p.mu.Unlock()
}

// Status returns the last status mirrored from the owner.
func (p *Proxy) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Subscribe follows the mirrored status the same way
// Connection.Subscribe follows the real one.
func (p *Proxy) Subscribe() (<-chan Status, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		channel := make(chan Status)
		close(channel)
		return channel, func() {}
	}
	id, channel := p.feed.subscribe(p.status)
	var once sync.Once
	return channel, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.feed.unsubscribe(id)
		})
	}
}

func (p *Proxy) post(message Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrDestroyed
	}
	message.Instrument = p.id
	if err := p.link.Post(message); err != nil {
		return fmt.Errorf("forwarding %s to %s: %w", message.Action, p.id, err)
	}
	return nil
}

func (p *Proxy) Configure(params transport.Params) error {
	return p.post(Message{Action: ActionConfigure, Params: &params})
}

func (p *Proxy) Connect() error {
	return p.post(Message{Action: ActionConnect})
}

func (p *Proxy) Disconnect() error {
	return p.post(Message{Action: ActionDisconnect})
}

// Destroy forwards the destroy to the owner and stops mirroring.
func (p *Proxy) Destroy() error {
	err := p.post(Message{Action: ActionDestroy})
	p.Close()
	return err
}

func (p *Proxy) Send(command string, options SendOptions) error {
	return p.post(Message{Action: ActionSend, Command: command, Options: options})
}

func (p *Proxy) Download(instructions DownloadInstructions) error {
	return p.post(Message{Action: ActionDownload, Download: &instructions})
}

func (p *Proxy) AbortLongOperation() error {
	return p.post(Message{Action: ActionAbort})
}

func (p *Proxy) DismissError() error {
	return p.post(Message{Action: ActionDismiss})
}

// Acquire asks the owner to route values to owner through this proxy,
// and waits for the answer.
func (p *Proxy) Acquire(ctx context.Context, owner Receiver, trace bool) error {
	if owner == nil {
		return ErrNoOwner
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	if p.owner != nil {
		p.mu.Unlock()
		return ErrAlreadyAcquired
	}
	p.owner = owner
	p.mu.Unlock()

	if err := p.link.Acquire(ctx, p.id, p.handle, trace); err != nil {
		p.mu.Lock()
		p.owner = nil
		p.mu.Unlock()
		return err
	}
	p.logger.Debug("acquired")
	return nil
}

// Release gives the session back and waits for the owner to confirm.
func (p *Proxy) Release(ctx context.Context) error {
	p.mu.Lock()
	held := p.owner != nil
	p.mu.Unlock()
	if !held {
		return nil
	}
	if err := p.link.Release(ctx, p.id, p.handle); err != nil {
		return err
	}
	p.mu.Lock()
	p.owner = nil
	p.mu.Unlock()
	return nil
}

// Close stops mirroring. A session this proxy still holds is released
// first, waiting at most CloseReleaseTimeout; the owner's session is
// otherwise untouched.
func (p *Proxy) Close() error {
	p.mu.Lock()
	held := p.owner != nil && !p.closed
	p.mu.Unlock()
	if held {
		ctx, cancel := context.WithTimeout(context.Background(), CloseReleaseTimeout)
		if err := p.Release(ctx); err != nil {
			p.logger.Debug("release on close failed", "error", err)
		}
		cancel()
	}
	p.cancel()
	<-p.done
	return nil
}
