// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/bureau-foundation/benchlink/activity"
)

// Acquire routes every received value to owner instead of the default
// sink until Release. With trace false, requests and responses are not
// recorded. Only a connected session can be acquired, and only by one
// owner at a time: a second Acquire is refused with ErrAlreadyAcquired.
// The hold survives a disconnect. A nil owner is refused with
// ErrNoOwner.
func (c *Connection) Acquire(ctx context.Context, owner Receiver, trace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if owner == nil {
		return ErrNoOwner
	}
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.state != StateConnected {
		c.setError(ErrNotConnected)
		c.record(activity.Entry{Kind: activity.KindError, Text: "acquire: " + ErrNotConnected.Message})
		return ErrNotConnected
	}
	if c.owner != nil {
		c.setError(ErrAlreadyAcquired)
		c.record(activity.Entry{Kind: activity.KindError, Text: ErrAlreadyAcquired.Message})
		return ErrAlreadyAcquired
	}
	c.owner = owner
	c.tracing = trace
	c.logger.Debug("session acquired", "trace", trace)
	return nil
}

// Release restores default routing and tracing. Releasing a session
// nobody holds does nothing.
func (c *Connection) Release(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.owner != nil {
		c.logger.Debug("session released")
	}
	c.owner = nil
	c.tracing = true
	return nil
}

// ReleaseOwner releases the session only while owner holds it, and
// returns ErrNotOwner otherwise. owner must be of a comparable type.
func (c *Connection) ReleaseOwner(ctx context.Context, owner Receiver) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if owner == nil || c.owner != owner {
		return ErrNotOwner
	}
	c.logger.Debug("session released")
	c.owner = nil
	c.tracing = true
	return nil
}

// Acquired reports whether an exclusive owner holds the session.
func (c *Connection) Acquired() bool {
	c.mu.Lock()
	defer c.unlock()
	return c.owner != nil
}
