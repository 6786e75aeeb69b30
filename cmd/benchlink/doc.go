// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Benchlink talks to bench instruments over raw TCP sockets and serial
// lines.
//
// Four commands share one configuration file:
//
//   - console opens the configured instruments in this process and
//     reads commands from stdin. Plain lines are sent to the
//     instrument; lines starting with ':' control the session
//     (:connect, :disconnect, :abort, :download, :acquire, :release,
//     :status, :history, :dismiss, :quit).
//   - serve owns every configured instrument and serves them on the
//     relay socket, with Prometheus metrics when metrics.listen is set.
//   - attach opens the same console against an instrument owned by a
//     running serve process.
//   - list prints the instruments a serve process owns.
//
// Instruments that were connected when the previous process stopped
// and are marked auto_connect are reconnected at startup.
package main
