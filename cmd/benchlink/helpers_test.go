// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/benchlink/lib/clock"
	"github.com/bureau-foundation/benchlink/lib/config"
	"github.com/bureau-foundation/benchlink/lib/testutil"
	"github.com/bureau-foundation/benchlink/session"
	"github.com/bureau-foundation/benchlink/transport"
)

const identification = "ACME,DMM-100,0042,1.2.3"

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a bytes.Buffer safe for one writer goroutine and a
// polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) requireContains(t *testing.T, want string) {
	t.Helper()
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		return strings.Contains(b.String(), want)
	}, "output never contained %q; got:\n%s", want, b)
}

// testConfig returns a valid configuration rooted in a temporary
// directory with the given instruments.
func testConfig(t *testing.T, instruments ...config.InstrumentConfig) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Root = root
	cfg.Activity.Journal = filepath.Join(root, "activity.jsonl")
	cfg.Relay.Socket = filepath.Join(testutil.SocketDir(t), "relay.sock")
	cfg.StateFile = filepath.Join(root, "sessions.cbor")
	cfg.Instruments = instruments
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func ethernetInstrument(id string) config.InstrumentConfig {
	return config.InstrumentConfig{ID: id, Transport: config.TransportEthernet, Host: "192.0.2.10", Port: 5025}
}

// testBench opens a bench over in-memory transports and a fake clock.
type testBench struct {
	*bench
	dialer *transport.MemoryDialer
	clock  *clock.FakeClock
	output *syncBuffer
}

func openTestBench(t *testing.T, cfg *config.Config) *testBench {
	t.Helper()
	tb := &testBench{
		dialer: &transport.MemoryDialer{},
		clock:  clock.Fake(epoch),
		output: &syncBuffer{},
	}
	b, err := openBench(cfg, discardLogger(), benchOptions{
		Dial:  tb.dialer.Dial,
		Sink:  &printer{w: tb.output},
		Clock: tb.clock,
	})
	if err != nil {
		t.Fatalf("openBench: %v", err)
	}
	tb.bench = b
	t.Cleanup(func() { b.Close() })
	return tb
}

// identify answers the handshake on the most recently dialed transport.
func (tb *testBench) identify(t *testing.T, connection *session.Connection) *transport.Memory {
	t.Helper()
	memory := tb.dialer.Last()
	memory.EmitConnected()
	if got := memory.TakeWritten(); got != session.IdentifyCommand+"\n" {
		t.Fatalf("written after connect = %q", got)
	}
	memory.Emit(identification + "\n")
	if state := connection.Status().State; state != session.StateConnected {
		t.Fatalf("state = %s, want connected", state)
	}
	return memory
}
