// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"
)

// Memory is an in-process Transport whose events are emitted by hand.
// Connect and Disconnect only count calls; the test decides when (and
// whether) Connected and Disconnected follow by calling the Emit
// methods from its own goroutine.
type Memory struct {
	kind    Kind
	handler Handler

	mu          sync.Mutex
	connects    int
	disconnects int
	written     []byte
	writes      int
	connectErr  error
	writeErr    error
}

var _ Transport = (*Memory)(nil)

// NewMemory returns a Memory transport reporting to handler.
func NewMemory(kind Kind, handler Handler) *Memory {
	return &Memory{kind: kind, handler: handler}
}

func (m *Memory) Kind() Kind {
	return m.kind
}

func (m *Memory) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.connectErr
}

func (m *Memory) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return nil
}

func (m *Memory) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.written = append(m.written, data...)
	return nil
}

// FailConnect makes subsequent Connect calls return err.
func (m *Memory) FailConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// FailWrites makes subsequent Write calls return err. A nil err
// restores normal writes.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Connects returns the number of Connect calls.
func (m *Memory) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Disconnects returns the number of Disconnect calls.
func (m *Memory) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// Writes returns the number of successful Write calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Written returns everything written so far.
func (m *Memory) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.written)
}

// TakeWritten returns everything written since the last TakeWritten
// and resets the record.
func (m *Memory) TakeWritten() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	written := string(m.written)
	m.written = nil
	return written
}

// EmitConnected delivers Connected to the handler.
func (m *Memory) EmitConnected() { m.handler.Connected() }

// EmitDisconnected delivers Disconnected to the handler.
func (m *Memory) EmitDisconnected() { m.handler.Disconnected() }

// Emit delivers data to the handler as one received chunk.
func (m *Memory) Emit(data string) { m.handler.Received([]byte(data)) }

// EmitFailure delivers Failed to the handler.
func (m *Memory) EmitFailure(err error) { m.handler.Failed(err) }

// MemoryDialer is a DialFunc source that builds Memory transports and
// remembers them.
type MemoryDialer struct {
	mu         sync.Mutex
	transports []*Memory
	dialErr    error
	connectErr error
}

// FailConnects makes transports dialed from now on fail Connect with
// err.
func (d *MemoryDialer) FailConnects(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// FailDial makes subsequent Dial calls return err.
func (d *MemoryDialer) FailDial(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// Dial is a DialFunc.
func (d *MemoryDialer) Dial(params Params, handler Handler) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	transport := NewMemory(params.Kind, handler)
	transport.connectErr = d.connectErr
	d.transports = append(d.transports, transport)
	return transport, nil
}

// Count returns how many transports have been dialed.
func (d *MemoryDialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

// Last returns the most recently dialed transport, or nil.
func (d *MemoryDialer) Last() *Memory {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}
