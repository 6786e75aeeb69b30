// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import "sync"

// DefaultRingSize is the default Ring capacity in entries.
const DefaultRingSize = 1024

// Ring is a fixed-size circular buffer of entries with sequence number
// tracking. Entry number N is the Nth entry ever recorded, counting
// from zero; once the ring is full each new entry overwrites the
// oldest.
//
// All methods are safe for concurrent use.
type Ring struct {
	mutex    sync.Mutex
	entries  []Entry
	capacity int
	// writePosition is the next slot to write (0 to capacity-1).
	writePosition int
	// totalRecorded is the number of entries ever recorded. The ring
	// holds sequence numbers totalRecorded-stored to totalRecorded-1,
	// where stored = min(totalRecorded, capacity).
	totalRecorded uint64
}

// NewRing creates a ring holding up to capacity entries. A capacity
// below one selects DefaultRingSize.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultRingSize
	}
	return &Ring{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

func (ring *Ring) Record(entry Entry) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	ring.entries[ring.writePosition] = entry
	ring.writePosition = (ring.writePosition + 1) % ring.capacity
	ring.totalRecorded++
}

// Since returns the entries with sequence numbers at or after sequence,
// oldest first. If sequence is older than the oldest retained entry,
// everything retained is returned (the caller missed some). Returns nil
// when there is nothing new.
func (ring *Ring) Since(sequence uint64) []Entry {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	if sequence >= ring.totalRecorded {
		return nil
	}
	stored := min(ring.totalRecorded, uint64(ring.capacity))
	oldest := ring.totalRecorded - stored
	sequence = max(sequence, oldest)

	count := int(ring.totalRecorded - sequence)
	result := make([]Entry, count)
	readPosition := (ring.writePosition - count + ring.capacity) % ring.capacity
	for i := range count {
		result[i] = ring.entries[(readPosition+i)%ring.capacity]
	}
	return result
}

// Recent returns up to n of the newest entries, oldest first.
func (ring *Ring) Recent(n int) []Entry {
	next := ring.Next()
	if uint64(n) >= next {
		return ring.Since(0)
	}
	return ring.Since(next - uint64(n))
}

// Next returns the sequence number the next entry will get. Store it
// and pass it to Since to read only what arrives afterwards.
func (ring *Ring) Next() uint64 {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()
	return ring.totalRecorded
}
