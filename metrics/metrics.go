// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exports session counters in Prometheus format.
//
// A nil *Sessions is valid and records nothing, so sessions built
// without metrics need no special casing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connect outcomes.
const (
	OutcomeConnected = "connected"
	OutcomeFailed    = "failed"
)

// Transfer outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// Sessions holds the instrument session metrics.
type Sessions struct {
	registry        *prometheus.Registry
	connectAttempts *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	linesReceived   *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	transferBytes   *prometheus.CounterVec
}

// New creates the metrics on a fresh registry.
func New() *Sessions {
	s := &Sessions{
		registry: prometheus.NewRegistry(),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchlink_connect_attempts_total",
				Help: "Connection attempts by instrument and outcome.",
			},
			[]string{"instrument", "outcome"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "benchlink_session_duration_seconds",
				Help:    "Length of sessions that reached the connected state.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"instrument"},
		),
		linesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchlink_lines_received_total",
				Help: "Response lines received by instrument.",
			},
			[]string{"instrument"},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchlink_transfers_total",
				Help: "Long operations by instrument, kind and outcome.",
			},
			[]string{"instrument", "kind", "outcome"},
		),
		transferBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "benchlink_transfer_bytes_total",
				Help: "Payload bytes moved by completed long operations.",
			},
			[]string{"instrument", "kind"},
		),
	}
	s.registry.MustRegister(
		s.connectAttempts,
		s.sessionDuration,
		s.linesReceived,
		s.transfers,
		s.transferBytes,
	)
	return s
}

// ConnectAttempt counts one connection attempt with its outcome.
func (s *Sessions) ConnectAttempt(instrument, outcome string) {
	if s == nil {
		return
	}
	s.connectAttempts.WithLabelValues(instrument, outcome).Inc()
}

// SessionEnded observes the length of a session that had connected.
func (s *Sessions) SessionEnded(instrument string, duration time.Duration) {
	if s == nil {
		return
	}
	s.sessionDuration.WithLabelValues(instrument).Observe(duration.Seconds())
}

// LineReceived counts one response line.
func (s *Sessions) LineReceived(instrument string) {
	if s == nil {
		return
	}
	s.linesReceived.WithLabelValues(instrument).Inc()
}

// Transfer counts a finished long operation. Bytes count only for
// completed transfers.
func (s *Sessions) Transfer(instrument, kind, outcome string, bytes int) {
	if s == nil {
		return
	}
	s.transfers.WithLabelValues(instrument, kind, outcome).Inc()
	if outcome == OutcomeCompleted && bytes > 0 {
		s.transferBytes.WithLabelValues(instrument, kind).Add(float64(bytes))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (s *Sessions) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (s *Sessions) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
