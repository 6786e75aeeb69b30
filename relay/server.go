// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/bureau-foundation/benchlink/lib/codec"
	"github.com/bureau-foundation/benchlink/session"
)

// DefaultHeartbeat is the interval between heartbeat frames on a watch
// stream.
const DefaultHeartbeat = 15 * time.Second

// Server exposes a session.Link, normally a *session.Host, on a Unix
// socket.
type Server struct {
	link     session.Link
	registry *session.Registry
	logger   *slog.Logger
	socket   *SocketServer

	// Heartbeat is the watch stream heartbeat interval. Set before
	// Serve.
	Heartbeat time.Duration
}

// NewServer creates a relay server for link. registry answers the list
// action.
func NewServer(socketPath string, link session.Link, registry *session.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		link:      link,
		registry:  registry,
		logger:    logger,
		socket:    NewSocketServer(socketPath, logger),
		Heartbeat: DefaultHeartbeat,
	}
	s.socket.Handle(actionPost, s.handlePost)
	s.socket.Handle(actionAcquire, s.handleAcquire)
	s.socket.Handle(actionRelease, s.handleRelease)
	s.socket.Handle(actionList, s.handleList)
	s.socket.HandleStream(actionWatch, s.handleWatch)
	return s
}

// Serve runs the socket until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	return s.socket.Serve(ctx)
}

func decodeRequest(raw []byte) (request, error) {
	var decoded request
	if err := codec.Unmarshal(raw, &decoded); err != nil {
		return request{}, err
	}
	return decoded, nil
}

func (s *Server) handlePost(_ context.Context, raw []byte) (any, error) {
	decoded, err := decodeRequest(raw)
	if err != nil {
		return nil, err
	}
	if decoded.Message == nil {
		return nil, errors.New("post without message")
	}
	return nil, s.link.Post(*decoded.Message)
}

func (s *Server) handleAcquire(ctx context.Context, raw []byte) (any, error) {
	decoded, err := decodeRequest(raw)
	if err != nil {
		return nil, err
	}
	if decoded.Handle == "" {
		return nil, errors.New("acquire without owner handle")
	}
	return nil, s.link.Acquire(ctx, decoded.Instrument, decoded.Handle, decoded.Trace)
}

func (s *Server) handleRelease(ctx context.Context, raw []byte) (any, error) {
	decoded, err := decodeRequest(raw)
	if err != nil {
		return nil, err
	}
	return nil, s.link.Release(ctx, decoded.Instrument, decoded.Handle)
}

func (s *Server) handleList(context.Context, []byte) (any, error) {
	if s.registry == nil {
		return []InstrumentInfo{}, nil
	}
	ids := s.registry.List()
	list := make([]InstrumentInfo, 0, len(ids))
	for _, id := range ids {
		registered, role, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		info := InstrumentInfo{ID: id, Role: role, Status: registered.Status()}
		if connection, ok := registered.(*session.Connection); ok {
			info.Identification = connection.Identification()
			info.Params = connection.Params()
		}
		list = append(list, info)
	}
	return list, nil
}

// handleWatch streams one instrument's updates. The stream ends when
// the server shuts down, the client hangs up, a write fails, or the
// instrument's update stream closes. The link releases a hold taken
// under the request's handle once the stream ends.
func (s *Server) handleWatch(ctx context.Context, raw []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)
	write := func(frame Frame) error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return encoder.Encode(frame)
	}

	decoded, err := decodeRequest(raw)
	if err != nil {
		write(Frame{Type: FrameError, Error: "invalid request: " + err.Error()})
		return
	}

	// The client never writes after its request, so a read returning
	// means it hung up.
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()

	updates, err := s.link.Watch(watchCtx, decoded.Instrument, decoded.Handle)
	if err != nil {
		code, fault := classify(err)
		write(Frame{Type: FrameError, Error: err.Error(), Code: code, Fault: fault})
		return
	}

	logger := s.logger.With("instrument", decoded.Instrument)
	logger.Debug("watch stream started")
	defer logger.Debug("watch stream ended")

	heartbeat := time.NewTicker(s.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-watchCtx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := write(Frame{Type: FrameUpdate, Update: &update}); err != nil {
				logger.Debug("watch stream write failed", "error", err)
				return
			}
		case <-heartbeat.C:
			if err := write(Frame{Type: FrameHeartbeat}); err != nil {
				logger.Debug("watch stream write failed", "error", err)
				return
			}
		}
	}
}
