// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/metrics"
	"github.com/bureau-foundation/benchlink/value"
)

// armHousekeeping schedules the next tick. Each tick re-arms itself
// until the generation changes.
func (c *Connection) armHousekeeping(generation uint64) {
	c.housekeeping = c.clock.AfterFunc(c.timing.Housekeeping, func() {
		c.tick(generation)
	})
}

// tick polls the active long operation: a download writes its next
// chunk, and either kind is completed once it reports done.
func (c *Connection) tick(generation uint64) {
	c.mu.Lock()
	defer c.unlock()
	if !c.current(generation) || c.state != StateConnected {
		return
	}
	c.armHousekeeping(generation)
	if c.operation == nil {
		return
	}
	if err := c.operation.poll(c.transport); err != nil {
		c.failOperation(err)
		return
	}
	if c.operation.done() {
		if surplus := c.completeOperation(); len(surplus) > 0 {
			c.consume(surplus)
		}
	}
}

// canStartOperation checks the preconditions for a new long operation
// without changing anything.
func (c *Connection) canStartOperation() error {
	if c.state != StateConnected || c.transport == nil {
		return ErrNotConnected
	}
	if c.operation != nil {
		return ErrOperationInProgress
	}
	return nil
}

// startLongOperation installs op, or records why it cannot start.
func (c *Connection) startLongOperation(op longOperation) error {
	if c.state != StateConnected || c.transport == nil {
		return ErrNotConnected
	}
	if c.operation != nil {
		conflict := ErrOperationInProgress
		if c.operation.kind() == op.kind() {
			conflict = ErrTransferInProgress
		}
		c.setError(conflict)
		c.record(activity.Entry{Kind: activity.KindError, Text: conflict.Message})
		return conflict
	}
	c.operation = op
	return nil
}

// completeOperation finishes the active operation and returns its
// surplus for re-parsing.
func (c *Connection) completeOperation() []byte {
	op := c.operation
	c.operation = nil
	payload := op.payload()
	digest := blake3.Sum256(payload)
	c.record(activity.Entry{
		Kind:   activity.KindTransfer,
		Text:   string(op.kind()),
		Bytes:  len(payload),
		Digest: hex.EncodeToString(digest[:]),
	})
	c.metrics.Transfer(c.id, string(op.kind()), metrics.OutcomeCompleted, len(payload))
	c.logger.Info("long operation completed", "kind", string(op.kind()), "bytes", len(payload))
	if op.kind() == OperationUpload {
		c.deliver(value.Block(payload))
	}
	return op.surplus()
}

// failOperation aborts the active operation after a parse or write
// failure and shows the failure as the session error.
func (c *Connection) failOperation(cause error) {
	kind := c.operation.kind()
	c.abortOperation(cause.Error())
	failure := newError(ErrorTransfer, "%s failed: %v", kind, cause)
	c.setError(failure)
	c.record(activity.Entry{Kind: activity.KindError, Text: failure.Message})
}

// abortOperation drops the active operation, if any. Bytes it was
// holding are discarded.
func (c *Connection) abortOperation(reason string) {
	if c.operation == nil {
		return
	}
	op := c.operation
	c.operation = nil
	progress := op.progress()
	c.metrics.Transfer(c.id, string(op.kind()), metrics.OutcomeAborted, progress.Transferred)
	c.logger.Info("long operation aborted",
		"kind", string(op.kind()),
		"transferred", progress.Transferred,
		"reason", reason,
	)
}

// AbortLongOperation aborts the active long operation immediately.
func (c *Connection) AbortLongOperation() error {
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if c.operation == nil {
		return ErrNoOperation
	}
	kind := c.operation.kind()
	c.abortOperation("aborted by caller")
	c.record(activity.Entry{Kind: activity.KindError, Text: fmt.Sprintf("%s aborted", kind)})
	return nil
}

// Download starts sending instructions.Data to the instrument. The
// command and block header go out now; the payload follows one chunk
// per housekeeping tick.
func (c *Connection) Download(instructions DownloadInstructions) error {
	c.mu.Lock()
	defer c.unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	op := newDownload(instructions, c.timing.DownloadChunk)
	if err := c.startLongOperation(op); err != nil {
		return err
	}
	if err := op.start(c.transport); err != nil {
		c.failOperation(err)
		return newError(ErrorTransfer, "%v", err)
	}
	if c.tracing {
		c.record(activity.Entry{
			Kind: activity.KindRequest,
			Text: fmt.Sprintf("%s<block %d bytes>", instructions.Command, len(instructions.Data)),
		})
	}
	c.logger.Info("download started", "bytes", len(instructions.Data), "chunk", op.chunkSize)
	return nil
}
