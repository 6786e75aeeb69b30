// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/lib/clock"
	"github.com/bureau-foundation/benchlink/lib/config"
	"github.com/bureau-foundation/benchlink/lib/sessionstate"
	"github.com/bureau-foundation/benchlink/metrics"
	"github.com/bureau-foundation/benchlink/session"
	"github.com/bureau-foundation/benchlink/transport"
)

// benchOptions replace the production collaborators.
type benchOptions struct {
	// Dial defaults to the TCP and serial transports.
	Dial transport.DialFunc

	// Sink receives values no exclusive owner claims.
	Sink session.Receiver

	Clock   clock.Clock
	Metrics *metrics.Sessions
}

// bench is the set of instruments this process owns, with the
// activity record and state file they share.
type bench struct {
	config   *config.Config
	logger   *slog.Logger
	clock    clock.Clock
	registry *session.Registry
	ring     *activity.Ring
	journal  *activity.Journal
	tracker  *sessionstate.Tracker

	tracking sync.WaitGroup
	stops    []func()
}

// openBench creates an idle Connection for every configured instrument.
func openBench(cfg *config.Config, logger *slog.Logger, options benchOptions) (*bench, error) {
	timing, err := cfg.Timing.ParseTiming()
	if err != nil {
		return nil, err
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Dial == nil {
		dialer := &transport.Dialer{Logger: logger}
		options.Dial = dialer.Dial
	}

	b := &bench{
		config:   cfg,
		logger:   logger,
		clock:    options.Clock,
		registry: session.NewRegistry(),
		ring:     activity.NewRing(cfg.Activity.RingSize),
	}
	recorder := activity.Multi{&activity.LogRecorder{Logger: logger}, b.ring}

	if cfg.Activity.Journal != "" {
		compression, err := activity.ParseCompression(cfg.Activity.Compression)
		if err != nil {
			return nil, err
		}
		b.journal, err = activity.OpenJournal(activity.JournalConfig{
			Path:        cfg.Activity.Journal,
			MaxBytes:    cfg.Activity.MaxBytes,
			Compression: compression,
			Clock:       options.Clock,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening activity journal: %w", err)
		}
		recorder = append(recorder, b.journal)
	}

	if cfg.StateFile != "" {
		b.tracker = sessionstate.NewTracker(cfg.StateFile, options.Clock)
	}

	for _, instrument := range cfg.Instruments {
		connection, err := session.NewConnection(instrument.ID, session.Options{
			Params:     instrumentParams(instrument),
			Dial:       options.Dial,
			Clock:      options.Clock,
			Logger:     logger,
			Recorder:   recorder,
			Instrument: identityLogger{logger: logger},
			Sink:       options.Sink,
			Metrics:    options.Metrics,
			Timing: session.Timing{
				Coalesce:        timing.Coalesce,
				IdentifyTimeout: timing.IdentifyTimeout,
				Housekeeping:    timing.Housekeeping,
				DownloadChunk:   timing.DownloadChunk,
			},
		})
		if err == nil {
			err = b.registry.Add(connection, session.RoleOwner)
		}
		if err != nil {
			b.Close()
			return nil, err
		}
		if b.tracker != nil {
			b.track(connection)
		}
	}
	return b, nil
}

func instrumentParams(instrument config.InstrumentConfig) transport.Params {
	if instrument.Transport == config.TransportSerial {
		return transport.Params{
			Kind:     transport.KindSerial,
			Device:   instrument.Device,
			BaudRate: instrument.BaudRate,
		}
	}
	return transport.Params{
		Kind: transport.KindEthernet,
		Host: instrument.Host,
		Port: instrument.Port,
	}
}

// track mirrors connection's connected state into the state file.
func (b *bench) track(connection *session.Connection) {
	statuses, stop := connection.Subscribe()
	b.stops = append(b.stops, stop)
	b.tracking.Add(1)
	go func() {
		defer b.tracking.Done()
		for status := range statuses {
			since, _ := connection.ConnectedSince()
			connected := status.State == session.StateConnected
			if err := b.tracker.Set(connection.ID(), connected, since); err != nil {
				b.logger.Warn("recording session state failed",
					"instrument", connection.ID(),
					"error", err,
				)
			}
		}
	}()
}

// autoConnect connects the auto_connect instruments that the previous
// process left connected, and returns their IDs.
func (b *bench) autoConnect() []string {
	if b.tracker == nil {
		return nil
	}
	maxAge, err := b.config.ParseStateMaxAge()
	if err != nil {
		b.logger.Warn("ignoring session state", "error", err)
		return nil
	}
	state, found, err := sessionstate.Check(b.config.StateFile, maxAge, b.clock.Now())
	if err != nil {
		b.logger.Warn("reading session state failed", "path", b.config.StateFile, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	var eligible []string
	for _, instrument := range b.config.Instruments {
		if instrument.AutoConnect {
			eligible = append(eligible, instrument.ID)
		}
	}

	var connected []string
	for _, id := range state.AutoConnect(eligible) {
		connection, ok := b.registry.Connection(id)
		if !ok {
			continue
		}
		if err := connection.Connect(); err != nil {
			b.logger.Warn("auto-connect failed", "instrument", id, "error", err)
			continue
		}
		b.logger.Info("auto-connecting instrument", "instrument", id)
		connected = append(connected, id)
	}
	return connected
}

// connection returns the Connection for id, or the first configured
// instrument when id is empty.
func (b *bench) connection(id string) (*session.Connection, error) {
	if id == "" {
		if len(b.config.Instruments) == 0 {
			return nil, errors.New("no instruments configured")
		}
		id = b.config.Instruments[0].ID
	}
	connection, ok := b.registry.Connection(id)
	if !ok {
		return nil, fmt.Errorf("instrument %q: %w", id, session.ErrUnknownInstrument)
	}
	return connection, nil
}

// Close records the final connected set, then destroys every
// Connection and flushes the journal.
func (b *bench) Close() error {
	for _, stop := range b.stops {
		stop()
	}
	b.tracking.Wait()

	err := b.registry.Close()
	if b.journal != nil {
		err = errors.Join(err, b.journal.Close())
	}
	return err
}

// identityLogger logs the identification string of each instrument.
type identityLogger struct {
	logger *slog.Logger
}

func (l identityLogger) Identified(instrumentID, identification string) {
	l.logger.Info("instrument identified",
		"instrument", instrumentID,
		"identification", identification,
	)
}
