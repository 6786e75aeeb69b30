// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay carries a [session.Link] between processes over a Unix
// socket, so a console in one process can drive instruments owned by
// another.
//
// The wire format is CBOR (see lib/codec). Request/response actions
// follow one request per connection: the client writes a single CBOR
// request, half-closes, and reads a single [Response]. The actions are:
//
//   - post: queue a forwarded call ([session.Message]) on its instrument
//   - acquire, release: exclusive ownership on behalf of a proxy handle
//   - list: every registered instrument with its current status
//
// The watch action is a stream: after the request the server writes
// [Frame] values (the instrument's current status first, then every
// update, with periodic heartbeats) until either side closes the
// connection or the instrument is destroyed. A watch request carries
// the proxy's handle, and a hold taken under that handle is released
// when the stream ends, so a client that exits without releasing does
// not keep the instrument.
//
// Errors cross the socket as a message plus a code. Session error
// codes come back as *session.Error, so errors.Is against the session
// sentinels works the same on both sides; programming faults such as
// session.ErrUnknownInstrument are rebuilt as a [RemoteError] wrapping
// the matching sentinel.
package relay
