// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/benchlink/value"
)

// watcherBuffer is how many updates a watcher may fall behind before it
// is dropped.
const watcherBuffer = 256

// ErrHostClosed is returned by a Host after Close.
var ErrHostClosed = errors.New("host closed")

// Host serves Links for the Connections in a Registry. It is the owning
// side of the mirror: each instrument gets an ordered queue of
// forwarded calls, drained by one goroutine, and an update feed that
// fans status changes and owner-addressed values out to watchers.
type Host struct {
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*hostEntry
	closed  bool
}

var _ Link = (*Host)(nil)

// NewHost creates a Host over registry.
func NewHost(registry *Registry, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Host{
		registry: registry,
		logger:   logger,
		entries:  make(map[string]*hostEntry),
	}
}

// Post queues message for its instrument.
func (h *Host) Post(message Message) error {
	entry, err := h.entry(message.Instrument)
	if err != nil {
		return err
	}
	entry.enqueue(hostWork{message: message})
	return nil
}

// Acquire acquires the instrument's Connection on behalf of handle.
func (h *Host) Acquire(ctx context.Context, instrument, handle string, trace bool) error {
	return h.exchange(ctx, instrument, &exclusiveRequest{ctx: ctx, handle: handle, trace: trace})
}

// Release releases the instrument's Connection held by handle.
func (h *Host) Release(ctx context.Context, instrument, handle string) error {
	return h.exchange(ctx, instrument, &exclusiveRequest{ctx: ctx, handle: handle, release: true})
}

func (h *Host) exchange(ctx context.Context, instrument string, request *exclusiveRequest) error {
	entry, err := h.entry(instrument)
	if err != nil {
		return err
	}
	request.reply = make(chan error, 1)
	entry.enqueue(hostWork{exclusive: request})
	select {
	case err := <-request.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-entry.done:
		return fmt.Errorf("%s: %w", instrument, ErrDestroyed)
	}
}

// Watch streams the instrument's updates, current status first. When
// the stream ends, a hold taken under handle is released.
func (h *Host) Watch(ctx context.Context, instrument, handle string) (<-chan Update, error) {
	entry, err := h.entry(instrument)
	if err != nil {
		return nil, err
	}
	return entry.watch(ctx, handle), nil
}

// Close stops every queue and closes every watcher. Connections stay
// in the registry.
func (h *Host) Close() {
	h.mu.Lock()
	h.closed = true
	entries := h.entries
	h.entries = make(map[string]*hostEntry)
	h.mu.Unlock()
	for _, entry := range entries {
		entry.shutdown()
		<-entry.done
	}
}

func (h *Host) entry(instrument string) (*hostEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHostClosed
	}
	if entry, ok := h.entries[instrument]; ok {
		return entry, nil
	}
	connection, ok := h.registry.Connection(instrument)
	if !ok {
		return nil, fmt.Errorf("%s: %w", instrument, ErrUnknownInstrument)
	}
	entry := &hostEntry{
		host:       h,
		connection: connection,
		logger:     h.logger.With("instrument", instrument),
		signal:     make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		watchers:   make(map[int]*watcher),
	}
	statuses, unsubscribe := connection.Subscribe()
	entry.unsubscribe = unsubscribe
	h.entries[instrument] = entry
	go entry.run()
	go entry.forward(statuses)
	return entry, nil
}

// forget drops entry once its Connection is gone.
func (h *Host) forget(entry *hostEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.entries[entry.connection.ID()] == entry {
		delete(h.entries, entry.connection.ID())
	}
}

type exclusiveRequest struct {
	ctx     context.Context
	handle  string
	trace   bool
	release bool
	reply   chan error
}

type hostWork struct {
	message   Message
	exclusive *exclusiveRequest
}

type watcher struct {
	handle   string
	updates  chan Update
	sequence uint64
}

// hostOwner is the Receiver a host acquires a Connection with. Its
// identity tells the host whether the Connection is still held through
// it.
type hostOwner struct {
	entry  *hostEntry
	handle string
}

func (o *hostOwner) Receive(_ string, v value.Value) {
	o.entry.broadcast(Update{Type: UpdateValue, Owner: o.handle, Value: v})
}

type hostEntry struct {
	host       *Host
	connection *Connection
	logger     *slog.Logger

	queueMu sync.Mutex
	queue   []hostWork
	signal  chan struct{}

	stopOnce    sync.Once
	stop        chan struct{}
	done        chan struct{}
	unsubscribe func()

	// owner is the handle holding the Connection through this host,
	// and holder the Receiver it holds it with. Only the run goroutine
	// touches them.
	owner  string
	holder *hostOwner

	feedMu      sync.Mutex
	watchers    map[int]*watcher
	nextWatcher int
	feedClosed  bool
}

func (e *hostEntry) enqueue(work hostWork) {
	e.queueMu.Lock()
	e.queue = append(e.queue, work)
	e.queueMu.Unlock()
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *hostEntry) shutdown() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.unsubscribe()
	})
}

// run is the owning context for the instrument: it applies forwarded
// calls one at a time, in order.
func (e *hostEntry) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.signal:
		}
		e.queueMu.Lock()
		work := e.queue
		e.queue = nil
		e.queueMu.Unlock()
		for _, item := range work {
			if item.exclusive != nil {
				item.exclusive.reply <- e.applyExclusive(item.exclusive)
				continue
			}
			if item.message.Action == ActionDestroy {
				if err := e.host.registry.Remove(e.connection.ID()); err != nil {
					e.logger.Debug("forwarded destroy", "error", err)
				}
				e.host.forget(e)
				e.shutdown()
				return
			}
			if err := e.apply(item.message); err != nil {
				e.logger.Debug("forwarded call failed", "action", string(item.message.Action), "error", err)
			}
		}
	}
}

func (e *hostEntry) apply(message Message) error {
	connection := e.connection
	switch message.Action {
	case ActionConfigure:
		if message.Params == nil {
			return errors.New("configure without params")
		}
		return connection.Configure(*message.Params)
	case ActionConnect:
		return connection.Connect()
	case ActionDisconnect:
		return connection.Disconnect()
	case ActionSend:
		return connection.Send(message.Command, message.Options)
	case ActionDownload:
		if message.Download == nil {
			return errors.New("download without instructions")
		}
		return connection.Download(*message.Download)
	case ActionAbort:
		return connection.AbortLongOperation()
	case ActionDismiss:
		return connection.DismissError()
	default:
		return fmt.Errorf("unknown action %q", message.Action)
	}
}

func (e *hostEntry) applyExclusive(request *exclusiveRequest) error {
	if err := request.ctx.Err(); err != nil {
		return err
	}
	if request.release {
		if e.owner == "" || e.owner != request.handle {
			return ErrNotOwner
		}
		err := e.connection.ReleaseOwner(request.ctx, e.holder)
		switch {
		case errors.Is(err, ErrNotOwner):
			e.logger.Debug("hold already ended in the owning context", "handle", request.handle)
		case err != nil:
			return err
		}
		e.owner, e.holder = "", nil
		return nil
	}
	holder := &hostOwner{entry: e, handle: request.handle}
	if err := e.connection.Acquire(request.ctx, holder, request.trace); err != nil {
		return err
	}
	e.owner, e.holder = request.handle, holder
	return nil
}

// watchEnded queues the release of a hold taken under handle, so an
// acquisition never outlives the proxy that made it.
func (e *hostEntry) watchEnded(handle string) {
	if handle == "" {
		return
	}
	e.enqueue(hostWork{exclusive: &exclusiveRequest{
		ctx:     context.Background(),
		handle:  handle,
		release: true,
		reply:   make(chan error, 1),
	}})
}

// forward relays the Connection's status changes until it is destroyed
// or the entry shuts down.
func (e *hostEntry) forward(statuses <-chan Status) {
	for status := range statuses {
		e.broadcast(Update{Type: UpdateStatus, Status: status})
	}
	e.feedMu.Lock()
	e.feedClosed = true
	for id, w := range e.watchers {
		delete(e.watchers, id)
		close(w.updates)
	}
	e.feedMu.Unlock()
	e.host.forget(e)
	e.shutdown()
}

func (e *hostEntry) watch(ctx context.Context, handle string) <-chan Update {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	w := &watcher{handle: handle, updates: make(chan Update, watcherBuffer)}
	if e.feedClosed {
		close(w.updates)
		return w.updates
	}
	current := e.connection.Status()
	w.updates <- Update{Type: UpdateStatus, Status: current}
	w.sequence = current.Sequence
	id := e.nextWatcher
	e.nextWatcher++
	e.watchers[id] = w

	go func() {
		select {
		case <-ctx.Done():
		case <-e.stop:
		}
		e.feedMu.Lock()
		defer e.feedMu.Unlock()
		if _, ok := e.watchers[id]; ok {
			delete(e.watchers, id)
			e.watchEnded(w.handle)
			close(w.updates)
		}
	}()
	return w.updates
}

func (e *hostEntry) broadcast(update Update) {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	for id, w := range e.watchers {
		if update.Type == UpdateStatus {
			if update.Status.Sequence <= w.sequence {
				continue
			}
			w.sequence = update.Status.Sequence
		}
		select {
		case w.updates <- update:
		default:
			e.logger.Warn("dropping slow watcher", "buffer", watcherBuffer)
			delete(e.watchers, id)
			e.watchEnded(w.handle)
			close(w.updates)
		}
	}
}
