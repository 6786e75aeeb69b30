// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the byte-stream media a session talks to an
// instrument over.
//
// The engine sees a medium only through [Transport] (connect, disconnect,
// write) and the [Handler] event contract (connected, disconnected,
// received, failed). Events arrive asynchronously on the transport's
// own goroutine, never from inside a Transport call, so a handler may
// call straight back into the transport or into the session that owns
// it.
//
// [Params] names the medium as a closed variant, ethernet or serial.
// [Dialer.Dial] picks the implementation once, when a session connects:
// [TCP] for raw-socket instruments (conventionally port 5025) and
// [Serial] for RS-232 and USB-serial instruments via go.bug.st/serial.
// Both share one stream reader, so their event behavior is identical.
// Write only queues: a writer goroutine drains the queue, so a peer
// that stops reading never blocks the caller. A full queue fails the
// Write with [ErrWriteQueueFull], and a failed write is reported as
// Failed.
//
// [Memory] is an in-process transport for tests: the test drives the
// events by hand and inspects what the session wrote.
package transport
