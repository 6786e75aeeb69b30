// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"context"
	"log/slog"
)

// LogRecorder writes entries to a logger: traffic at debug, lifecycle
// at info, failures at warn.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r *LogRecorder) Record(entry Entry) {
	level := slog.LevelInfo
	switch entry.Kind {
	case KindRequest, KindResponse:
		level = slog.LevelDebug
	case KindError, KindConnectFailed:
		level = slog.LevelWarn
	}
	attributes := []slog.Attr{
		slog.String("instrument", entry.Instrument),
		slog.String("kind", string(entry.Kind)),
	}
	if entry.Text != "" {
		attributes = append(attributes, slog.String("text", entry.Text))
	}
	if entry.Duration > 0 {
		attributes = append(attributes, slog.Duration("duration", entry.Duration))
	}
	if entry.Digest != "" {
		attributes = append(attributes, slog.Int("bytes", entry.Bytes), slog.String("blake3", entry.Digest))
	}
	r.Logger.LogAttrs(context.Background(), level, "instrument activity", attributes...)
}
