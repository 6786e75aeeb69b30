// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package activity records what happens on instrument sessions: every
// command sent, every response line, connects, disconnects, failures
// and completed bulk transfers.
//
// Sessions call [Recorder.Record] while holding their own lock, so a
// Recorder must never block. The implementations here honor that:
//
//   - [Nop] discards everything.
//   - [LogRecorder] writes entries to a *slog.Logger.
//   - [Ring] keeps the most recent entries in memory with sequence
//     numbers, so a console can show "everything since N".
//   - [Journal] appends JSON lines to a file from a background
//     goroutine, rotating at a size limit and compressing rotated
//     segments with lz4 or zstd. When its queue is full it drops
//     entries and counts them rather than stall a session.
//   - [Multi] fans one entry out to several recorders.
package activity
