// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/value"
)

// beginIdentification sends the identification query and waits for the
// first line. Sends are not held back while it waits.
func (c *Connection) beginIdentification(generation uint64) {
	c.framer.take()
	if c.tracing {
		c.record(activity.Entry{Kind: activity.KindRequest, Text: IdentifyCommand})
	}
	if err := c.transport.Write([]byte(IdentifyCommand + "\n")); err != nil {
		failure := newError(ErrorConnect, "writing identification query: %v", err)
		c.setError(failure)
		c.record(activity.Entry{Kind: activity.KindError, Text: failure.Message})
		c.disconnectLocked()
		return
	}
	c.identifying = true
	c.identifyTimer = c.clock.AfterFunc(c.timing.IdentifyTimeout, func() {
		c.identifyTimedOut(generation)
	})
}

func (c *Connection) identifyTimedOut(generation uint64) {
	c.mu.Lock()
	defer c.unlock()
	if !c.current(generation) || !c.identifying {
		return
	}
	c.identifying = false
	c.identifyTimer = nil
	failure := newError(ErrorIdentifyTimeout, "no identification response within %s", c.timing.IdentifyTimeout)
	c.setError(failure)
	c.record(activity.Entry{Kind: activity.KindError, Text: failure.Message})
	c.logger.Warn("identification timed out", "timeout", c.timing.IdentifyTimeout)
	c.disconnectLocked()
}

// identify handles the first line after connecting.
func (c *Connection) identify(line []byte) {
	c.identifying = false
	c.identifyTimer.Stop()
	c.identifyTimer = nil

	parsed, err := c.parser.Parse(line)
	if err != nil || parsed.Kind != value.KindText {
		failure := newError(ErrorIdentifyResponse, "unexpected identification response %q", trimLine(line))
		c.setError(failure)
		c.record(activity.Entry{Kind: activity.KindError, Text: failure.Message})
		c.logger.Warn("identification rejected", "response", trimLine(line), "kind", string(parsed.Kind))
		c.disconnectLocked()
		return
	}

	c.identification = parsed.Text
	c.logger.Info("instrument identified", "identification", parsed.Text)
	if c.instrument == nil {
		return
	}
	instrument, id, identification := c.instrument, c.id, parsed.Text
	c.later(func() { instrument.Identified(id, identification) })
}
