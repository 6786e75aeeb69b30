// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by every
// benchlink timer.
//
// A session runs three kinds of timers: the short coalescing timer that
// force-flushes a partial response line, the one-shot identification
// timeout, and the periodic housekeeping tick that polls long
// operations. All of them are one-shot callbacks scheduled through
// [Clock.AfterFunc]; the housekeeping tick re-arms itself.
//
// Production code uses [Real]. Tests use [Fake], whose time stands still
// until [FakeClock.Advance] is called. Callbacks run synchronously inside
// Advance in deadline order, so a test can drive a session through a
// timeout without sleeping:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	conn := session.New("dmm", params, session.Options{Clock: fake})
//	// ... connect ...
//	fake.Advance(time.Second) // identification timeout fires here
package clock
