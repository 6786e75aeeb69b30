// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/bureau-foundation/benchlink/transport"
)

// OperationKind names the two long operations. The set is closed.
type OperationKind string

const (
	OperationUpload   OperationKind = "upload"
	OperationDownload OperationKind = "download"
)

// Progress reports the active long operation. Kind is empty when
// nothing is in progress. Expected is -1 while the length is unknown.
type Progress struct {
	Kind        OperationKind
	Expected    int
	Transferred int
}

// Active reports whether a long operation is in progress.
func (p Progress) Active() bool {
	return p.Kind != ""
}

// longOperation is a binary transfer overlaid on the line stream. A
// Connection holds at most one. Every received chunk goes to feed while
// it is active, and every housekeeping tick calls poll; once done
// reports true the Connection takes the payload and re-parses surplus
// as ordinary line data.
type longOperation interface {
	kind() OperationKind
	feed(chunk []byte) error
	poll(w transport.Transport) error
	done() bool
	payload() []byte
	surplus() []byte
	progress() Progress
}
