// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/lib/clock"
	"github.com/bureau-foundation/benchlink/metrics"
	"github.com/bureau-foundation/benchlink/transport"
	"github.com/bureau-foundation/benchlink/value"
)

// Timing holds the session's fixed intervals.
type Timing struct {
	// Coalesce is how long an unterminated line may sit in the frame
	// buffer before it is delivered as is.
	Coalesce time.Duration

	// IdentifyTimeout bounds the identification handshake.
	IdentifyTimeout time.Duration

	// Housekeeping is the polling interval for long operations.
	Housekeeping time.Duration

	// DownloadChunk is the default number of bytes a download writes
	// per housekeeping tick.
	DownloadChunk int
}

// DefaultTiming returns the standard intervals.
func DefaultTiming() Timing {
	return Timing{
		Coalesce:        50 * time.Millisecond,
		IdentifyTimeout: time.Second,
		Housekeeping:    100 * time.Millisecond,
		DownloadChunk:   4096,
	}
}

func (t Timing) withDefaults() Timing {
	defaults := DefaultTiming()
	if t.Coalesce <= 0 {
		t.Coalesce = defaults.Coalesce
	}
	if t.IdentifyTimeout <= 0 {
		t.IdentifyTimeout = defaults.IdentifyTimeout
	}
	if t.Housekeeping <= 0 {
		t.Housekeeping = defaults.Housekeeping
	}
	if t.DownloadChunk <= 0 {
		t.DownloadChunk = defaults.DownloadChunk
	}
	return t
}

// IdentifyCommand is the identification query sent after every
// connect.
const IdentifyCommand = "*IDN?"

// Options configures a Connection. Only Dial is required.
type Options struct {
	Params transport.Params
	Dial   transport.DialFunc

	Clock      clock.Clock
	Logger     *slog.Logger
	Parser     value.Parser
	Recorder   activity.Recorder
	Instrument Instrument
	Sink       Receiver
	Metrics    *metrics.Sessions
	Timing     Timing
}

// Connection owns the live session with one instrument: its transport,
// frame buffer and long operation.
//
// Every entry point, whether a caller method, a transport event or a
// timer, runs under one mutex. Calls out to receivers and the
// instrument are queued while the mutex is held and run in order once
// it is released, so those collaborators may call straight back into
// the Connection.
type Connection struct {
	id         string
	dial       transport.DialFunc
	clock      clock.Clock
	logger     *slog.Logger
	parser     value.Parser
	recorder   activity.Recorder
	instrument Instrument
	sink       Receiver
	metrics    *metrics.Sessions
	timing     Timing

	mu             sync.Mutex
	params         transport.Params
	state          State
	errorCode      ErrorCode
	errorMessage   string
	connectedSince time.Time
	reached        bool
	identification string
	destroyed      bool

	transport transport.Transport
	// generation tags the handler given to each transport so events
	// from a replaced transport are ignored.
	generation uint64

	framer    framer
	operation longOperation

	identifying   bool
	identifyTimer *clock.Timer
	housekeeping  *clock.Timer

	owner   Receiver
	tracing bool

	feed      statusFeed
	published Status

	pending  []func()
	draining bool
}

// NewConnection creates an idle Connection for instrument id.
func NewConnection(id string, options Options) (*Connection, error) {
	if id == "" {
		return nil, fmt.Errorf("instrument id is required")
	}
	if options.Dial == nil {
		return nil, fmt.Errorf("instrument %s: dial function is required", id)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Parser == nil {
		options.Parser = value.Default
	}
	if options.Recorder == nil {
		options.Recorder = activity.Nop{}
	}
	c := &Connection{
		id:         id,
		dial:       options.Dial,
		clock:      options.Clock,
		logger:     options.Logger.With("instrument", id),
		parser:     options.Parser,
		recorder:   options.Recorder,
		instrument: options.Instrument,
		sink:       options.Sink,
		metrics:    options.Metrics,
		timing:     options.Timing.withDefaults(),
		params:     options.Params,
		state:      StateIdle,
		tracing:    true,
	}
	c.published = Status{State: StateIdle}
	return c, nil
}

// ID returns the instrument identifier.
func (c *Connection) ID() string {
	return c.id
}

// unlock publishes any status change, releases the mutex, and runs the
// callbacks queued while it was held. A callback that re-enters the
// Connection queues behind the ones already waiting; the goroutine
// that started draining runs them all, in order.
func (c *Connection) unlock() {
	c.publishLocked()
	if c.draining || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		callbacks := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, callback := range callbacks {
			callback()
		}
		c.mu.Lock()
		c.publishLocked()
	}
	c.draining = false
	c.mu.Unlock()
}

// later queues f to run after the mutex is released.
func (c *Connection) later(f func()) {
	c.pending = append(c.pending, f)
}

func (c *Connection) statusLocked() Status {
	return Status{
		Sequence:  c.published.Sequence,
		State:     c.state,
		ErrorCode: c.errorCode,
		Error:     c.errorMessage,
	}
}

func (c *Connection) publishLocked() {
	if c.destroyed {
		return
	}
	current := c.statusLocked()
	if current.sameAs(c.published) {
		return
	}
	current.Sequence = c.published.Sequence + 1
	c.published = current
	c.feed.publish(current)
}

// Status returns the current published status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

// Subscribe returns a channel carrying the current status, then every
// later change (latest-wins), and a function that ends the
// subscription. The channel is closed when the Connection is destroyed.
func (c *Connection) Subscribe() (<-chan Status, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		channel := make(chan Status)
		close(channel)
		return channel, func() {}
	}
	id, channel := c.feed.subscribe(c.published)
	var once sync.Once
	return channel, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.feed.unsubscribe(id)
		})
	}
}

// ConnectedSince returns when the current session reached the connected
// state, and false when it is not connected.
func (c *Connection) ConnectedSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return time.Time{}, false
	}
	return c.connectedSince, true
}

// Identification returns the identification string of the current
// session, or "" before the handshake completes.
func (c *Connection) Identification() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identification
}

// Tracing reports whether requests and responses are being recorded.
func (c *Connection) Tracing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracing
}

// Progress reports the active long operation.
func (c *Connection) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.operation == nil {
		return Progress{Expected: -1}
	}
	return c.operation.progress()
}

// Params returns the stored transport parameters.
func (c *Connection) Params() transport.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Configure replaces the transport parameters used by the next Connect.
func (c *Connection) Configure(params transport.Params) error {
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.state != StateIdle {
		return fmt.Errorf("configuring while %s: %w", c.state, ErrInvalidState)
	}
	c.params = params
	return nil
}

// Connect starts a new session. It is valid only from idle; anywhere
// else it returns ErrInvalidState and touches nothing.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.state != StateIdle {
		return fmt.Errorf("connecting while %s: %w", c.state, ErrInvalidState)
	}

	c.clearError()
	c.generation++
	created, err := c.dial(c.params, events{connection: c, generation: c.generation})
	if err != nil {
		return c.connectFailed(fmt.Errorf("dialing %s: %w", c.params, err))
	}
	c.transport = created
	c.reached = false
	c.identification = ""
	c.state = StateConnecting
	if err := created.Connect(); err != nil {
		c.transport = nil
		c.state = StateIdle
		return c.connectFailed(fmt.Errorf("connecting to %s: %w", c.params, err))
	}
	c.logger.Info("connecting", "transport", string(created.Kind()), "address", c.params.String())
	return nil
}

func (c *Connection) connectFailed(cause error) error {
	failure := newError(ErrorConnect, "%v", cause)
	c.setError(failure)
	c.record(activity.Entry{Kind: activity.KindConnectFailed, Text: failure.Message})
	c.metrics.ConnectAttempt(c.id, metrics.OutcomeFailed)
	c.logger.Warn("connect failed", "error", cause)
	return failure
}

// Disconnect requests teardown. Valid while connecting or connected;
// the session returns to idle when the transport confirms.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.state != StateConnected && c.state != StateConnecting {
		return fmt.Errorf("disconnecting while %s: %w", c.state, ErrInvalidState)
	}
	c.disconnectLocked()
	return nil
}

func (c *Connection) disconnectLocked() {
	c.state = StateDisconnecting
	if c.transport == nil {
		return
	}
	if err := c.transport.Disconnect(); err != nil {
		c.logger.Warn("transport disconnect failed", "error", err)
	}
}

// Destroy tears the Connection down for good. The transport is told to
// disconnect, but its events are no longer observed, and subscriber
// channels are closed. Later calls return ErrDestroyed.
func (c *Connection) Destroy() error {
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return nil
	}
	c.abortOperation("session destroyed")
	c.stopTimers()
	c.stopCoalescing()
	c.generation++
	if c.transport != nil {
		if err := c.transport.Disconnect(); err != nil {
			c.logger.Debug("transport disconnect on destroy", "error", err)
		}
		c.transport = nil
	}
	c.state = StateIdle
	c.owner = nil
	c.publishLocked()
	c.destroyed = true
	c.feed.closeAll()
	c.logger.Info("session destroyed")
	return nil
}

// DismissError clears the error code and message without touching the
// state.
func (c *Connection) DismissError() error {
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.clearError()
	return nil
}

func (c *Connection) setError(err *Error) {
	c.errorCode = err.Code
	c.errorMessage = err.Message
}

func (c *Connection) clearError() {
	c.errorCode = ErrorNone
	c.errorMessage = ""
}

func (c *Connection) record(entry activity.Entry) {
	entry.Time = c.clock.Now()
	entry.Instrument = c.id
	c.recorder.Record(entry)
}

// deliver routes v to the exclusive owner, or the default sink when
// nobody holds the session.
func (c *Connection) deliver(v value.Value) {
	target := c.owner
	if target == nil {
		target = c.sink
	}
	if target == nil {
		return
	}
	id := c.id
	c.later(func() { target.Receive(id, v) })
}

// events is the transport.Handler given to one transport. It drops
// events once its generation is no longer current.
type events struct {
	connection *Connection
	generation uint64
}

var _ transport.Handler = events{}

func (e events) Connected()           { e.connection.transportConnected(e.generation) }
func (e events) Disconnected()        { e.connection.transportDisconnected(e.generation) }
func (e events) Received(data []byte) { e.connection.transportReceived(e.generation, data) }
func (e events) Failed(err error)     { e.connection.transportFailed(e.generation, err) }

func (c *Connection) current(generation uint64) bool {
	return !c.destroyed && generation == c.generation && c.transport != nil
}

func (c *Connection) transportConnected(generation uint64) {
	c.mu.Lock()
	defer c.unlock()
	if !c.current(generation) || c.state != StateConnecting {
		return
	}
	c.state = StateConnected
	c.reached = true
	c.connectedSince = c.clock.Now()
	c.record(activity.Entry{Kind: activity.KindConnected, Text: c.params.String()})
	c.metrics.ConnectAttempt(c.id, metrics.OutcomeConnected)
	c.logger.Info("connected")
	c.armHousekeeping(generation)
	c.beginIdentification(generation)
}

func (c *Connection) transportDisconnected(generation uint64) {
	c.mu.Lock()
	defer c.unlock()
	if !c.current(generation) {
		return
	}
	c.abortOperation("transport disconnected")
	c.stopTimers()
	c.stopCoalescing()
	if !c.framer.empty() {
		c.dispatchLine(c.framer.take())
	}
	now := c.clock.Now()
	if c.reached {
		duration := now.Sub(c.connectedSince)
		c.record(activity.Entry{Kind: activity.KindDisconnected, Duration: duration})
		c.metrics.SessionEnded(c.id, duration)
		c.logger.Info("disconnected", "duration", duration)
	} else {
		c.record(activity.Entry{Kind: activity.KindConnectFailed, Text: c.errorMessage})
		c.metrics.ConnectAttempt(c.id, metrics.OutcomeFailed)
		c.logger.Info("connect did not complete")
	}
	c.transport = nil
	c.state = StateIdle
	c.connectedSince = time.Time{}
	c.reached = false
}

func (c *Connection) transportReceived(generation uint64, data []byte) {
	c.mu.Lock()
	defer c.unlock()
	if !c.current(generation) {
		return
	}
	if c.state != StateConnected && c.state != StateDisconnecting {
		c.logger.Debug("dropping data received while " + string(c.state))
		return
	}
	c.consume(data)
}

func (c *Connection) transportFailed(generation uint64, err error) {
	c.mu.Lock()
	defer c.unlock()
	if !c.current(generation) {
		return
	}
	failure := newError(ErrorConnect, "%v", err)
	c.setError(failure)
	c.record(activity.Entry{Kind: activity.KindError, Text: failure.Message})
	c.logger.Warn("transport failed", "error", err)
	c.abortOperation("transport failed")
}

func (c *Connection) stopTimers() {
	c.identifying = false
	c.identifyTimer.Stop()
	c.identifyTimer = nil
	c.housekeeping.Stop()
	c.housekeeping = nil
}
