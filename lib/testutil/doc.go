// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for benchlink packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets. Socket paths are limited to 108 bytes (sun_path in
// sockaddr_un), and t.TempDir() paths can exceed that.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts
// bound a test; session timers themselves run on a fake clock.
//
// [UniqueID] generates monotonically increasing identifiers, used for
// instrument IDs and owner handles that must not collide across
// parallel tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
