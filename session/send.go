// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/value"
)

// Send writes command plus a line terminator. It refuses when the
// session is not connected, and while a long operation owns the stream
// unless options.LongOperation is set. A refusal is delivered to the
// receiver as an error value, recorded, shown as the session error, and
// returned.
func (c *Connection) Send(command string, options SendOptions) error {
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.state != StateConnected || c.transport == nil {
		return c.refuse(command, ErrNotConnected)
	}
	if c.operation != nil && !options.LongOperation {
		return c.refuse(command, newError(ErrorSendConflict,
			"cannot send %q while a %s is in progress", command, c.operation.kind()))
	}

	c.clearError()
	if !options.Silent && c.tracing {
		c.record(activity.Entry{Kind: activity.KindRequest, Text: command})
	}
	if err := c.transport.Write([]byte(command + "\n")); err != nil {
		failure := newError(ErrorConnect, "sending %q: %v", command, err)
		c.setError(failure)
		c.record(activity.Entry{Kind: activity.KindError, Text: failure.Message})
		return failure
	}
	return nil
}

// refuse produces the synthetic error response for a send that was not
// written.
func (c *Connection) refuse(command string, refusal *Error) error {
	c.setError(refusal)
	c.record(activity.Entry{Kind: activity.KindError, Text: refusal.Message})
	c.deliver(value.Error(refusal.Message, []byte(command)))
	c.logger.Debug("send refused", "command", command, "reason", refusal.Message)
	return refusal
}
