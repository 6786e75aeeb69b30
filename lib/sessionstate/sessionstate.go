// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstate

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/benchlink/lib/clock"
	"github.com/bureau-foundation/benchlink/lib/codec"
)

// Instrument is one connected instrument.
type Instrument struct {
	ID string `cbor:"id"`

	// Since is when the session reached the connected state.
	Since time.Time `cbor:"since"`
}

// State is the set of instruments connected at Timestamp.
type State struct {
	Connected []Instrument `cbor:"connected"`
	Timestamp time.Time    `cbor:"timestamp"`
}

// AutoConnect returns the IDs in the state that are also in
// configured, in state order.
func (s State) AutoConnect(configured []string) []string {
	var ids []string
	for _, instrument := range s.Connected {
		if slices.Contains(configured, instrument.ID) {
			ids = append(ids, instrument.ID)
		}
	}
	return ids
}

// Write atomically writes a state file with mode 0600. The parent
// directory must already exist.
func Write(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Read reads a state file. A missing file yields an error wrapping
// os.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return state, nil
}

// Check reads the state file and reports whether it is recent enough
// to act on. A missing file or one older than maxAge at now yields
// found=false with no error; a maxAge of zero accepts any age. Other
// failures, including a corrupt file, are returned.
func Check(path string, maxAge time.Duration, now time.Time) (State, bool, error) {
	state, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	if maxAge > 0 && now.Sub(state.Timestamp) > maxAge {
		return State{}, false, nil
	}
	return state, true, nil
}

// Clear removes the state file. It is a no-op when the file does not
// exist.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// Tracker keeps the state file in step with the connected set. Set is
// safe for concurrent use; the file is rewritten only when the set
// changes.
type Tracker struct {
	path  string
	clock clock.Clock

	mu        sync.Mutex
	connected map[string]time.Time
}

// NewTracker returns a Tracker writing to path, starting from an empty
// connected set.
func NewTracker(path string, c clock.Clock) *Tracker {
	return &Tracker{
		path:      path,
		clock:     c,
		connected: make(map[string]time.Time),
	}
}

// Set records whether id is connected. since is kept for connected
// instruments.
func (t *Tracker) Set(id string, connected bool, since time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, was := t.connected[id]
	if was == connected {
		return nil
	}
	if connected {
		t.connected[id] = since
	} else {
		delete(t.connected, id)
	}
	return Write(t.path, t.snapshot())
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *Tracker) snapshot() State {
	state := State{Timestamp: t.clock.Now().UTC()}
	for id, since := range t.connected {
		state.Connected = append(state.Connected, Instrument{ID: id, Since: since})
	}
	slices.SortFunc(state.Connected, func(a, b Instrument) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return state
}
