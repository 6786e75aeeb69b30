// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/bureau-foundation/benchlink/lib/blockdata"
	"github.com/bureau-foundation/benchlink/transport"
)

// download trickles a block to the instrument, one chunk per
// housekeeping tick. Anything the instrument sends meanwhile is held
// and handed back as surplus.
type download struct {
	command   string
	data      []byte
	chunkSize int
	sent      int
	finished  bool
	held      []byte
}

var _ longOperation = (*download)(nil)

func newDownload(instructions DownloadInstructions, defaultChunk int) *download {
	chunkSize := instructions.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunk
	}
	return &download{
		command:   instructions.Command,
		data:      instructions.Data,
		chunkSize: chunkSize,
	}
}

// start writes the command and the block header.
func (d *download) start(w transport.Transport) error {
	opening := append([]byte(d.command), blockdata.Header(len(d.data))...)
	if err := w.Write(opening); err != nil {
		return fmt.Errorf("writing download header: %w", err)
	}
	return nil
}

func (d *download) kind() OperationKind { return OperationDownload }

func (d *download) feed(chunk []byte) error {
	d.held = append(d.held, chunk...)
	return nil
}

// poll writes the next chunk, and the terminating newline once the
// last chunk is out.
func (d *download) poll(w transport.Transport) error {
	if d.finished {
		return nil
	}
	if d.sent < len(d.data) {
		end := min(d.sent+d.chunkSize, len(d.data))
		if err := w.Write(d.data[d.sent:end]); err != nil {
			return fmt.Errorf("writing download bytes %d-%d: %w", d.sent, end, err)
		}
		d.sent = end
	}
	if d.sent == len(d.data) {
		if err := w.Write([]byte("\n")); err != nil {
			return fmt.Errorf("writing download terminator: %w", err)
		}
		d.finished = true
	}
	return nil
}

func (d *download) done() bool { return d.finished }

func (d *download) payload() []byte { return d.data }

func (d *download) surplus() []byte { return d.held }

func (d *download) progress() Progress {
	return Progress{
		Kind:        OperationDownload,
		Expected:    len(d.data),
		Transferred: d.sent,
	}
}
