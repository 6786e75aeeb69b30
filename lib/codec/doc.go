// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is benchlink's CBOR configuration.
//
// CBOR is the wire format between a session owner and its mirrors: the
// relay socket carries forwarded calls, acknowledgments and the
// per-instrument update stream as CBOR values. CBOR is self-delimiting,
// so a stream of values needs no extra framing:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only cross the relay use `cbor` struct tags. The encoder
// uses Core Deterministic Encoding (RFC 8949 section 4.2) so the same
// message always produces the same bytes.
package codec
