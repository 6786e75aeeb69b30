// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session manages live sessions with measurement instruments
// over a byte-stream transport speaking a line-oriented protocol that is
// occasionally interrupted by binary block transfers.
//
// # Connection
//
// [Connection] owns one instrument's transport. Its lifecycle is
// idle -> connecting -> connected -> disconnecting -> idle, and it can
// cycle indefinitely. Connect is valid only from idle and Disconnect
// only while connecting or connected; calls from any other state return
// [ErrInvalidState] and change nothing. On every connect the session
// sends "*IDN?" and expects a text line back within the identification
// timeout, otherwise it shows [ErrorIdentifyTimeout] and disconnects.
//
// Received bytes go through the framer: complete lines (terminator
// included) are parsed by the [value.Parser] and delivered to the
// exclusive owner if one holds the session, else to the default sink. A
// chunk starting with '#' on an empty frame buffer starts an upload of
// an arbitrary block (see lib/blockdata); bytes that follow the block
// are re-parsed as lines. An unterminated remainder is delivered as a
// line once the coalescing interval passes with no more data.
//
// Long operations ([OperationUpload], [OperationDownload]) are polled by
// a housekeeping tick. At most one runs at a time, and while one runs,
// sends are refused unless marked [SendOptions.LongOperation].
//
// # Errors
//
// Operational problems are [*Error] values carrying an [ErrorCode]; the
// session shows the same code and message in its [Status] until
// [Connection.DismissError] or the next successful send or connect.
// Programming faults ([ErrInvalidState], [ErrNoOperation],
// [ErrDestroyed]) are plain sentinels that never change state.
//
// # Mirroring
//
// [Proxy] implements [Session] for a Connection owned by another
// context. It forwards calls over a [Link] and mirrors the owner's
// published status. [Host] is the owning side: it serves Links for the
// Connections in a [Registry], applying forwarded calls for each
// instrument in order on one goroutine. A proxy acquires under the
// handle it watches with, and the host releases that hold when the
// watch ends. The relay package carries a Link across processes.
//
// [Registry] maps instrument IDs to the sessions one context holds,
// tagged with the [Role] under which it holds them.
package session
