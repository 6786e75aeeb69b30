// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package value holds the typed values a session delivers to its
// receivers, and the [Parser] contract that classifies a response line.
//
// The session engine does not understand the instrument's value
// grammar. It hands every completed line to a Parser and routes the
// result; the only classification it relies on is whether the
// identification response is text. [Default] is a small classifier
// good enough for the reference binaries: quoted strings, numbers and
// comma-separated numeric lists, and everything else as text.
package value
