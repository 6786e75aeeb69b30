// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstate records which instruments were connected so the
// next process can reconnect them at startup.
//
// The workflow for a benchlink process:
//
//  1. At startup: call [Check] with the configured maximum age. A
//     missing or stale file yields found=false; the process starts
//     with every instrument idle.
//  2. For each instrument listed in the state and configured with
//     auto_connect, call Connect. [State.AutoConnect] computes that
//     list.
//  3. While running: feed status changes to a [Tracker], which
//     rewrites the file whenever the connected set changes.
//
// The file is CBOR, written atomically (temporary file, fsync, rename,
// fsync parent directory) with mode 0600, so a reader never sees a
// partial state.
package sessionstate
