// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package simulator is a small line-oriented instrument that listens on
// TCP. It answers enough of a SCPI-like command set to exercise a
// session end to end: identification, measurements, block uploads and
// downloads, and the misbehaviours (silence, unterminated answers) the
// session has to cope with.
//
// Commands, one per line:
//
//	*IDN?                   identification string
//	*OPC?                   1
//	*RST                    clears stored blocks, no answer
//	MEAS? / MEAS:VOLT?      a number
//	DATA?                   the configured block, as a definite-length block
//	MMEM:DATA 'name',<blk>  stores the block under name, no answer
//	MMEM:DATA? 'name'       the stored block
//	ECHO <text>             text
//	PARTIAL                 "PART" with no line terminator
//	SILENT                  no answer
//
// Blocks are sent without a trailing line terminator. Anything else is
// answered with an error line.
package simulator
