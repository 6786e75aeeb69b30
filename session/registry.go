// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Role records how a context holds an instrument's session.
type Role string

const (
	// RoleOwner: this context owns the Connection and its transport.
	RoleOwner Role = "owner"

	// RoleMirror: this context holds a Proxy of a Connection owned
	// elsewhere.
	RoleMirror Role = "mirror"
)

type registryEntry struct {
	session Session
	role    Role
}

// Registry maps instrument IDs to the sessions one context holds. Each
// context builds its own; there is no process-wide instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Add registers s under its ID. Each instrument may be registered once.
func (r *Registry) Add(s Session, role Role) error {
	if role != RoleOwner && role != RoleMirror {
		return fmt.Errorf("registering %s: unknown role %q", s.ID(), role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[s.ID()]; exists {
		return fmt.Errorf("registering %s: %w", s.ID(), ErrDuplicateInstrument)
	}
	r.entries[s.ID()] = registryEntry{session: s, role: role}
	return nil
}

// Get returns the session registered for id and its role.
func (r *Registry) Get(id string) (Session, Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry.session, entry.role, ok
}

// Connection returns the Connection this context owns for id.
func (r *Registry) Connection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.role != RoleOwner {
		return nil, false
	}
	connection, ok := entry.session.(*Connection)
	return connection, ok
}

// Remove unregisters id and ends its session: an owned Connection is
// destroyed, a mirror stops mirroring and leaves the owner's Connection
// alone.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("removing %s: %w", id, ErrUnknownInstrument)
	}
	return end(entry)
}

// List returns the registered instrument IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close removes every entry, ending each session as Remove does.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]registryEntry)
	r.mu.Unlock()

	var errs []error
	for id, entry := range entries {
		if err := end(entry); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func end(entry registryEntry) error {
	if entry.role == RoleMirror {
		if closer, ok := entry.session.(interface{ Close() error }); ok {
			return closer.Close()
		}
	}
	return entry.session.Destroy()
}
