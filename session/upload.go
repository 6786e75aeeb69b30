// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/bureau-foundation/benchlink/lib/blockdata"
	"github.com/bureau-foundation/benchlink/transport"
)

// MaxUploadLength is the largest block an upload accepts. A longer
// declared length fails the upload as a transfer error.
const MaxUploadLength = 256 << 20

// upload receives an arbitrary block from the instrument.
type upload struct {
	decoder blockdata.Decoder
}

var _ longOperation = (*upload)(nil)

// startUpload seeds an upload with the chunk that began with the block
// marker. A seed whose header is already malformed is not a block.
func startUpload(seed []byte) (*upload, error) {
	u := &upload{decoder: blockdata.Decoder{MaxLength: MaxUploadLength}}
	if err := u.feed(seed); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *upload) kind() OperationKind { return OperationUpload }

func (u *upload) feed(chunk []byte) error {
	_, err := u.decoder.Write(chunk)
	return err
}

func (u *upload) poll(transport.Transport) error { return nil }

func (u *upload) done() bool { return u.decoder.Done() }

func (u *upload) payload() []byte { return u.decoder.Payload() }

func (u *upload) surplus() []byte { return u.decoder.Surplus() }

func (u *upload) progress() Progress {
	return Progress{
		Kind:        OperationUpload,
		Expected:    u.decoder.Expected(),
		Transferred: u.decoder.Received(),
	}
}
