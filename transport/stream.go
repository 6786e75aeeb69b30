// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/benchlink/lib/netutil"
)

const (
	// readBufferSize bounds one Received chunk.
	readBufferSize = 4096

	// writeQueueLength bounds the writes accepted but not yet handed
	// to the stream.
	writeQueueLength = 64

	// WriteTimeout bounds one write on streams that support write
	// deadlines. A peer that stops reading for longer fails the
	// connection.
	WriteTimeout = 30 * time.Second
)

// ErrWriteQueueFull is returned by Write when the peer has not drained
// the earlier writes.
var ErrWriteQueueFull = errors.New("transport write queue full")

// writeDeadliner is implemented by net.Conn.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// stream implements Transport over any io.ReadWriteCloser. The open
// function runs on the reader goroutine, so a slow dial never blocks
// Connect. Writes are queued to a writer goroutine, so Write never
// blocks on a peer that stopped reading; a failed write closes the
// stream and is reported by the reader goroutine through Failed.
type stream struct {
	kind    Kind
	address string
	open    func(ctx context.Context) (io.ReadWriteCloser, error)
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	conn     io.ReadWriteCloser
	queue    chan []byte
	cancel   context.CancelFunc
	running  bool
	closing  bool
	writeErr error
}

func (s *stream) Kind() Kind {
	return s.kind
}

func (s *stream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.closing = false
	s.writeErr = nil
	s.queue = make(chan []byte, writeQueueLength)
	go s.run(ctx)
	return nil
}

func (s *stream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.closing {
		return ErrNotConnected
	}
	s.closing = true
	s.cancel()
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func (s *stream) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.closing || s.writeErr != nil {
		return ErrNotConnected
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	select {
	case s.queue <- chunk:
		return nil
	default:
		return fmt.Errorf("writing to %s: %w", s.address, ErrWriteQueueFull)
	}
}

// write drains queue into conn until ctx ends or a write fails. A
// failure is stored for the reader goroutine and closes conn, which
// ends the read loop.
func (s *stream) write(ctx context.Context, conn io.ReadWriteCloser, queue <-chan []byte) {
	deadliner, _ := conn.(writeDeadliner)
	for {
		var chunk []byte
		select {
		case <-ctx.Done():
			return
		case chunk = <-queue:
		}
		if deadliner != nil {
			deadliner.SetWriteDeadline(time.Now().Add(WriteTimeout))
		}
		if _, err := conn.Write(chunk); err != nil {
			s.mu.Lock()
			if !s.closing && s.writeErr == nil {
				s.writeErr = fmt.Errorf("writing to %s: %w", s.address, err)
			}
			s.mu.Unlock()
			conn.Close()
			return
		}
	}
}

// run owns the connection for one Connect: it opens the stream, reads
// until the stream ends, and emits the matching events.
func (s *stream) run(ctx context.Context) {
	defer s.handler.Disconnected()
	defer s.finish()

	s.logger.Debug("opening stream")
	conn, err := s.open(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.handler.Failed(fmt.Errorf("connecting to %s: %w", s.address, err))
		}
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	queue := s.queue
	s.mu.Unlock()

	go s.write(ctx, conn, queue)

	s.logger.Debug("stream open")
	s.handler.Connected()

	buffer := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			s.handler.Received(chunk)
		}
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			writeErr := s.writeErr
			s.mu.Unlock()
			switch {
			case closing:
			case writeErr != nil:
				s.handler.Failed(writeErr)
			case !netutil.IsExpectedCloseError(err):
				s.handler.Failed(fmt.Errorf("reading from %s: %w", s.address, err))
			}
			s.logger.Debug("stream closed", "requested", closing, "error", err)
			return
		}
	}
}

func (s *stream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.cancel()
	s.running = false
}
