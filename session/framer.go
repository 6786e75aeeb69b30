// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"strings"

	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/lib/blockdata"
	"github.com/bureau-foundation/benchlink/lib/clock"
	"github.com/bureau-foundation/benchlink/value"
)

// lineTerminator ends every response line.
const lineTerminator = '\n'

// framer accumulates unterminated bytes and splits complete lines off
// the front. It does no I/O; the Connection owns its coalescing timer.
type framer struct {
	buffer []byte
	timer  *clock.Timer
	// sequence invalidates a coalescing callback that raced with Stop.
	sequence uint64
}

// push appends chunk and returns every complete line, terminator
// included, in arrival order.
func (f *framer) push(chunk []byte) [][]byte {
	f.buffer = append(f.buffer, chunk...)
	var lines [][]byte
	for {
		end := bytes.IndexByte(f.buffer, lineTerminator)
		if end < 0 {
			break
		}
		line := make([]byte, end+1)
		copy(line, f.buffer[:end+1])
		lines = append(lines, line)
		f.buffer = append(f.buffer[:0], f.buffer[end+1:]...)
	}
	return lines
}

func (f *framer) empty() bool {
	return len(f.buffer) == 0
}

// take returns the buffered bytes and empties the buffer.
func (f *framer) take() []byte {
	remainder := f.buffer
	f.buffer = nil
	return remainder
}

// consume runs one received chunk through the framer. A chunk that
// completes a long operation may carry bytes of the next response, so
// the loop re-enters with the surplus until nothing is left.
func (c *Connection) consume(chunk []byte) {
	for {
		c.stopCoalescing()

		if c.operation != nil {
			if err := c.operation.feed(chunk); err != nil {
				c.failOperation(err)
			} else {
				chunk = nil
			}
		} else if c.framer.empty() && len(chunk) > 0 && chunk[0] == blockdata.Marker {
			if c.canStartOperation() == nil {
				if started, err := startUpload(chunk); err == nil {
					c.operation = started
					c.logger.Debug("upload started", "expected", started.progress().Expected)
					chunk = nil
				}
			}
		}

		if c.operation != nil {
			if !c.operation.done() {
				return
			}
			chunk = c.completeOperation()
			if len(chunk) == 0 {
				return
			}
			continue
		}

		if len(chunk) == 0 {
			return
		}
		for _, line := range c.framer.push(chunk) {
			c.dispatchLine(line)
		}
		if !c.framer.empty() {
			c.armCoalescing()
		}
		return
	}
}

func (c *Connection) armCoalescing() {
	c.framer.sequence++
	sequence := c.framer.sequence
	c.framer.timer = c.clock.AfterFunc(c.timing.Coalesce, func() {
		c.mu.Lock()
		defer c.unlock()
		if c.framer.sequence != sequence || c.destroyed {
			return
		}
		c.framer.timer = nil
		if !c.framer.empty() {
			c.dispatchLine(c.framer.take())
		}
	})
}

func (c *Connection) stopCoalescing() {
	c.framer.sequence++
	c.framer.timer.Stop()
	c.framer.timer = nil
}

// dispatchLine records, parses and routes one completed line. While the
// identification handshake is waiting, the line answers it and goes
// nowhere else.
func (c *Connection) dispatchLine(line []byte) {
	c.metrics.LineReceived(c.id)
	if c.tracing {
		c.record(activity.Entry{Kind: activity.KindResponse, Text: trimLine(line)})
	}
	if c.identifying {
		c.identify(line)
		return
	}
	parsed, err := c.parser.Parse(line)
	if err != nil {
		parsed = value.Error(err.Error(), line)
	}
	c.deliver(parsed)
}

func trimLine(line []byte) string {
	return strings.TrimRight(string(line), "\r\n")
}
