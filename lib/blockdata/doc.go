// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockdata encodes and incrementally decodes IEEE 488.2
// arbitrary block data, the binary framing instruments use to embed raw
// bytes in an otherwise line-oriented response stream.
//
// A definite-length block is the marker byte '#', one digit giving the
// width of the length field, that many decimal digits giving the payload
// length, and then exactly that many payload bytes:
//
//	#216Hello, instrument   (width 2, length 16)
//
// The width digit '0' introduces an indefinite-length block whose
// payload runs until the next newline, which terminates the block and
// is not part of the payload.
//
// [Decoder] accepts the block split across arbitrary chunk boundaries,
// including inside the length digits. Bytes that arrive after the
// payload are kept as surplus: they belong to whatever the instrument
// sends next.
package blockdata
