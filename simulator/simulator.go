// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/bureau-foundation/benchlink/lib/blockdata"
	"github.com/bureau-foundation/benchlink/lib/netutil"
)

// DefaultIdentification is answered to *IDN? unless configured.
const DefaultIdentification = "BENCHLINK,SIM-1,0001,1.0"

// Config configures a Simulator.
type Config struct {
	Identification string

	// Measure produces the MEAS? answer. Nil answers 1.
	Measure func() float64

	// Block is the DATA? payload.
	Block []byte

	// Mute makes the simulator read everything and answer nothing,
	// including *IDN?.
	Mute bool

	Logger *slog.Logger
}

// Simulator serves the command set on a TCP listener. Each connection
// is handled independently; stored blocks are shared.
type Simulator struct {
	listener net.Listener
	config   Config
	logger   *slog.Logger

	mu       sync.Mutex
	stored   map[string][]byte
	commands []string
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// Listen opens the simulator's listener on address ("127.0.0.1:0" picks
// a free port). Call Serve to start answering.
func Listen(address string, config Config) (*Simulator, error) {
	if config.Identification == "" {
		config.Identification = DefaultIdentification
	}
	if config.Measure == nil {
		config.Measure = func() float64 { return 1 }
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return &Simulator{
		listener: listener,
		config:   config,
		logger:   config.Logger,
		stored:   make(map[string][]byte),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the listening address.
func (s *Simulator) Addr() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Simulator) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	s.logger.Info("simulator listening", "address", s.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accepting: %w", err)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops listening and drops every open connection.
func (s *Simulator) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	err := s.listener.Close()
	for conn := range conns {
		conn.Close()
	}
	return err
}

// DropConnections closes every open connection but keeps listening.
func (s *Simulator) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()
	for conn := range conns {
		conn.Close()
	}
}

// Stored returns the block stored under name by MMEM:DATA.
func (s *Simulator) Stored(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.stored[name]
	return block, ok
}

// Commands returns every command received so far, in order.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Simulator) handle(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Debug("client connected")

	reader := bufio.NewReader(conn)
	for {
		command, block, err := readCommand(reader)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				logger.Warn("reading command", "error", err)
			}
			logger.Debug("client disconnected")
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, command)
		s.mu.Unlock()

		answer := s.answer(command, block)
		if answer == nil || s.config.Mute {
			continue
		}
		if _, err := conn.Write(answer); err != nil {
			logger.Debug("writing answer", "error", err)
			return
		}
	}
}

// readCommand reads one command line. A MMEM:DATA command carries a
// block after its arguments; the block and its terminating newline are
// consumed and returned separately.
func readCommand(reader *bufio.Reader) (string, []byte, error) {
	var line []byte
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return "", nil, err
		}
		if b == '\n' {
			return strings.TrimRight(string(line), "\r"), nil, nil
		}
		if b == blockdata.Marker && isDownload(string(line)) {
			reader.UnreadByte()
			block, err := readBlock(reader)
			if err != nil {
				return "", nil, err
			}
			return string(line), block, nil
		}
		line = append(line, b)
	}
}

func isDownload(line string) bool {
	return strings.HasPrefix(strings.ToUpper(line), "MMEM:DATA ")
}

func readBlock(reader *bufio.Reader) ([]byte, error) {
	var decoder blockdata.Decoder
	for !decoder.Done() {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if _, err := decoder.Write([]byte{b}); err != nil {
			return nil, err
		}
	}
	if decoder.Expected() >= 0 {
		// A definite block is followed by the command terminator.
		terminator, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if terminator != '\n' {
			reader.UnreadByte()
		}
	}
	return decoder.Payload(), nil
}

func (s *Simulator) answer(command string, block []byte) []byte {
	verb, argument, _ := strings.Cut(strings.TrimSpace(command), " ")
	switch strings.ToUpper(verb) {
	case "*IDN?":
		return line(s.config.Identification)
	case "*OPC?":
		return line("1")
	case "*RST":
		s.mu.Lock()
		s.stored = make(map[string][]byte)
		s.mu.Unlock()
		return nil
	case "MEAS?", "MEAS:VOLT?":
		return line(strconv.FormatFloat(s.config.Measure(), 'g', -1, 64))
	case "DATA?":
		return blockdata.Encode(s.config.Block)
	case "MMEM:DATA":
		name := quotedName(argument)
		s.mu.Lock()
		s.stored[name] = append([]byte(nil), block...)
		s.mu.Unlock()
		return nil
	case "MMEM:DATA?":
		s.mu.Lock()
		stored, ok := s.stored[quotedName(argument)]
		s.mu.Unlock()
		if !ok {
			return line(fmt.Sprintf("ERR no such file %s", argument))
		}
		return blockdata.Encode(stored)
	case "ECHO":
		return line(argument)
	case "PARTIAL":
		return []byte("PART")
	case "SILENT":
		return nil
	default:
		return line(fmt.Sprintf("ERR unknown command %q", verb))
	}
}

// quotedName extracts the file name from "'name'," or "'name'".
func quotedName(argument string) string {
	argument = strings.TrimSuffix(strings.TrimSpace(argument), ",")
	return strings.Trim(argument, `'"`)
}

func line(text string) []byte {
	return []byte(text + "\n")
}
