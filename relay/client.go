// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/benchlink/lib/codec"
	"github.com/bureau-foundation/benchlink/lib/netutil"
	"github.com/bureau-foundation/benchlink/session"
)

// dialTimeout bounds connecting to the relay socket.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for a response after
// writing its request. Covers the server's read and write timeouts plus
// handler time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize bounds a single response or frame.
const maxResponseSize = 16 * 1024 * 1024

// queueLength is how many calls may wait for the sender goroutine
// before Post blocks.
const queueLength = 256

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("relay client closed")

// Client is a session.Link over a relay socket. Posts, acquires and
// releases go through one sender goroutine, so the server sees them in
// the order they were made. Watch streams and List use their own
// connections.
type Client struct {
	socketPath string
	logger     *slog.Logger

	queue     chan queuedCall
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ session.Link = (*Client)(nil)

type queuedCall struct {
	ctx     context.Context
	request request
	// reply is nil for posts.
	reply chan error
}

// NewClient creates a client for the relay at socketPath. Call Close
// when done.
func NewClient(socketPath string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		socketPath: socketPath,
		logger:     logger,
		queue:      make(chan queuedCall, queueLength),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.send()
	return c
}

// Close stops the sender goroutine. Posts still queued are dropped.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

func (c *Client) send() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case queued := <-c.queue:
			err := c.call(queued.ctx, queued.request, nil)
			if queued.reply != nil {
				queued.reply <- err
				continue
			}
			if err != nil {
				c.logger.Warn("forwarded call failed",
					"instrument", queued.request.Instrument,
					"action", string(queued.request.Message.Action),
					"error", err,
				)
			}
		}
	}
}

func (c *Client) enqueue(queued queuedCall) error {
	select {
	case <-c.stop:
		return ErrClientClosed
	default:
	}
	select {
	case c.queue <- queued:
		return nil
	case <-c.stop:
		return ErrClientClosed
	}
}

// Post queues message and returns without waiting for the server.
func (c *Client) Post(message session.Message) error {
	return c.enqueue(queuedCall{
		ctx:     context.Background(),
		request: request{Action: actionPost, Instrument: message.Instrument, Message: &message},
	})
}

// Acquire asks the server to acquire instrument for handle, after every
// earlier post from this client.
func (c *Client) Acquire(ctx context.Context, instrument, handle string, trace bool) error {
	return c.exchange(ctx, request{Action: actionAcquire, Instrument: instrument, Handle: handle, Trace: trace})
}

// Release asks the server to release instrument held by handle.
func (c *Client) Release(ctx context.Context, instrument, handle string) error {
	return c.exchange(ctx, request{Action: actionRelease, Instrument: instrument, Handle: handle})
}

func (c *Client) exchange(ctx context.Context, req request) error {
	reply := make(chan error, 1)
	if err := c.enqueue(queuedCall{ctx: ctx, request: req, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClientClosed
	}
}

// List returns every instrument registered with the server.
func (c *Client) List(ctx context.Context) ([]InstrumentInfo, error) {
	var list []InstrumentInfo
	if err := c.call(ctx, request{Action: actionList}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// call performs one request/response exchange on a fresh connection.
func (c *Client) call(ctx context.Context, req request, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", req.Action, c.socketPath, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("writing %q request: %w", req.Action, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("reading %q response: %w", req.Action, err)
	}
	if !response.OK {
		return remoteError(req.Action, response.Error, response.Code, response.Fault)
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding %q response data: %w", req.Action, err)
		}
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return conn, nil
}

// Watch opens a watch stream for instrument on behalf of handle. It
// waits for the first frame, so an unknown instrument is reported here
// rather than as an empty stream.
func (c *Client) Watch(ctx context.Context, instrument, handle string) (<-chan session.Update, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("watching %s: %w", instrument, err)
	}
	if err := codec.NewEncoder(conn).Encode(request{Action: actionWatch, Instrument: instrument, Handle: handle}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing watch request: %w", err)
	}

	decoder := codec.NewDecoder(conn)
	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var first Frame
	if err := decoder.Decode(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading first watch frame: %w", err)
	}
	if first.Type == FrameError {
		conn.Close()
		return nil, remoteError(actionWatch, first.Error, first.Code, first.Fault)
	}
	conn.SetReadDeadline(time.Time{})

	updates := make(chan session.Update, queueLength)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		conn.Close()
	}()
	go func() {
		defer close(updates)
		defer close(stopped)
		frame := first
		for {
			if frame.Type == FrameUpdate && frame.Update != nil {
				select {
				case updates <- *frame.Update:
				case <-ctx.Done():
					return
				}
			}
			frame = Frame{}
			if err := decoder.Decode(&frame); err != nil {
				if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
					c.logger.Debug("watch stream ended", "instrument", instrument, "error", err)
				}
				return
			}
			if frame.Type == FrameError {
				c.logger.Warn("watch stream error", "instrument", instrument, "error", frame.Error)
				return
			}
		}
	}()
	return updates, nil
}
