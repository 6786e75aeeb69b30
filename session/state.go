// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

// State is the connection lifecycle state.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

// Status is the published, mirrorable view of a session.
type Status struct {
	// Sequence increases with every publication from the owning
	// session. Mirrors use it to discard stale updates.
	Sequence uint64 `cbor:"seq"`

	State     State     `cbor:"state"`
	ErrorCode ErrorCode `cbor:"error_code,omitempty"`
	Error     string    `cbor:"error,omitempty"`
}

// sameAs compares everything but the sequence number.
func (s Status) sameAs(other Status) bool {
	return s.State == other.State && s.ErrorCode == other.ErrorCode && s.Error == other.Error
}

// statusFeed is a set of latest-wins subscriber channels. Publishing
// never blocks: a subscriber that has not read the previous status
// sees only the newest one.
type statusFeed struct {
	subscribers map[int]chan Status
	next        int
}

func (f *statusFeed) subscribe(current Status) (int, <-chan Status) {
	if f.subscribers == nil {
		f.subscribers = make(map[int]chan Status)
	}
	channel := make(chan Status, 1)
	channel <- current
	id := f.next
	f.next++
	f.subscribers[id] = channel
	return id, channel
}

func (f *statusFeed) unsubscribe(id int) {
	if channel, ok := f.subscribers[id]; ok {
		delete(f.subscribers, id)
		close(channel)
	}
}

// publish must be called by one goroutine at a time.
func (f *statusFeed) publish(status Status) {
	for _, channel := range f.subscribers {
		select {
		case <-channel:
		default:
		}
		select {
		case channel <- status:
		default:
		}
	}
}

func (f *statusFeed) closeAll() {
	for id := range f.subscribers {
		f.unsubscribe(id)
	}
}
