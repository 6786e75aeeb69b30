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
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/benchlink/lib/codec"
)

// ActionFunc processes a request/response action. raw is the full CBOR
// request, including the "action" field.
//
// The returned value, if non-nil, is marshaled into the response's
// Data field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc takes over the connection for a streaming action. It owns
// conn until it returns; the server closes conn afterwards.
type StreamFunc func(ctx context.Context, raw []byte, conn net.Conn)

// SocketServer serves the CBOR action protocol on a Unix socket. Each
// connection carries exactly one request: a request/response action
// gets one Response, a stream action keeps the connection for as long
// as its handler runs.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	streams    map[string]StreamFunc
	logger     *slog.Logger

	// activeConnections tracks in-flight handlers. Serve waits for all
	// of them before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
// Register actions before calling Serve.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
	}
}

// Handle registers a request/response action. Panics if the action is
// already registered.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.mustBeNew(action)
	s.handlers[action] = handler
}

// HandleStream registers a streaming action. Panics if the action is
// already registered.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	s.mustBeNew(action)
	s.streams[action] = handler
}

func (s *SocketServer) mustBeNew(action string) {
	_, request := s.handlers[action]
	_, stream := s.streams[action]
	if request || stream {
		panic(fmt.Sprintf("relay.SocketServer: duplicate handler for action %q", action))
	}
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits for active handlers to finish. Stream handlers
// see the same ctx and must return once it is done.
//
// A stale socket file at the path is removed before listening, and the
// socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("relay listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout bounds how long a client may take to send its request.
const readTimeout = 30 * time.Second

// writeTimeout bounds each response or frame write.
const writeTimeout = 10 * time.Second

// maxRequestSize bounds a single request. Downloads travel inside post
// requests, so this is also the largest block a remote console can
// download.
const maxRequestSize = 16 * 1024 * 1024

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Errorf("invalid request: %w", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Errorf("invalid request: %w", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, errors.New("missing required field: action"))
		return
	}

	if stream, ok := s.streams[header.Action]; ok {
		conn.SetReadDeadline(time.Time{})
		stream(ctx, []byte(raw), conn)
		return
	}

	handler, ok := s.handlers[header.Action]
	if !ok {
		s.writeError(conn, fmt.Errorf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeError(conn, err)
		return
	}
	s.writeSuccess(conn, result)
}

// writeError sends {ok: false, error, code|fault}. Write failures are
// only logged; the connection is closing regardless.
func (s *SocketServer) writeError(conn net.Conn, err error) {
	code, fault := classify(err)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: err.Error(),
		Code:  code,
		Fault: fault,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// writeSuccess sends {ok: true} with result, if any, in Data.
func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Errorf("internal: marshaling response: %w", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
