// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/benchlink/lib/clock"
)

const (
	// DefaultJournalMaxBytes is the segment size that triggers rotation.
	DefaultJournalMaxBytes = 16 * 1024 * 1024

	// defaultQueueLength is how many entries may wait for the writer
	// before Record starts dropping.
	defaultQueueLength = 4096
)

// JournalConfig configures a Journal.
type JournalConfig struct {
	// Path is the active segment. Rotated segments are written next
	// to it as <Path>.<UTC timestamp>-<sequence><extension>.
	Path string

	// MaxBytes rotates the active segment once it grows past this
	// size. Zero selects DefaultJournalMaxBytes; negative disables
	// rotation.
	MaxBytes int64

	// Compression applies to rotated segments.
	Compression Compression

	// QueueLength bounds the entries waiting to be written.
	QueueLength int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Journal appends entries as JSON lines from a background goroutine.
type Journal struct {
	config  JournalConfig
	logger  *slog.Logger
	queue   chan Entry
	done    chan struct{}
	dropped atomic.Uint64

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool

	// openFile opens the active segment.
	openFile func(name string, flag int, perm os.FileMode) (*os.File, error)

	// Owned by the writer goroutine.
	file      *os.File
	size      int64
	encoder   *json.Encoder
	rotations int
}

// OpenJournal opens (or creates) the active segment and starts the
// writer.
func OpenJournal(config JournalConfig) (*Journal, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = DefaultJournalMaxBytes
	}
	if config.Compression == "" {
		config.Compression = CompressionNone
	}
	if config.QueueLength <= 0 {
		config.QueueLength = defaultQueueLength
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	journal := &Journal{
		config: config,
		logger: logger.With("journal", config.Path),
		queue:    make(chan Entry, config.QueueLength),
		done:     make(chan struct{}),
		openFile: os.OpenFile,
	}
	if err := journal.openSegment(); err != nil {
		return nil, err
	}
	go journal.run()
	return journal, nil
}

// Record queues entry for writing. It never blocks: when the queue is
// full, or the journal is closed, the entry is dropped and counted.
func (j *Journal) Record(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- entry:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns the number of entries discarded so far.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Close writes every queued entry, closes the active segment and stops
// the writer.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.queue)
		j.mu.Unlock()
	})
	<-j.done
	return nil
}

func (j *Journal) run() {
	defer close(j.done)
	for entry := range j.queue {
		if err := j.write(entry); err != nil {
			j.logger.Error("writing activity entry", "error", err)
		}
	}
	if err := j.file.Close(); err != nil {
		j.logger.Error("closing journal segment", "error", err)
	}
}

func (j *Journal) write(entry Entry) error {
	if err := j.encoder.Encode(entry); err != nil {
		return err
	}
	if j.config.MaxBytes > 0 && j.size >= j.config.MaxBytes {
		return j.rotate()
	}
	return nil
}

func (j *Journal) openSegment() error {
	file, err := j.openFile(j.config.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening journal %s: %w", j.config.Path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("reading journal size: %w", err)
	}
	j.file = file
	j.size = info.Size()
	j.encoder = json.NewEncoder(countingWriter{file: file, size: &j.size})
	return nil
}

// rotate moves the active segment aside, starts a new one, and archives
// the old one. The old segment stays open until the new one is ready;
// if rotation fails, writing continues to the old segment at the
// active path and the next entry retries.
func (j *Journal) rotate() error {
	j.rotations++
	stamp := j.config.Clock.Now().UTC().Format("20060102T150405.000000000")
	rotated := fmt.Sprintf("%s.%s-%04d", j.config.Path, stamp, j.rotations)
	if err := os.Rename(j.config.Path, rotated); err != nil {
		return fmt.Errorf("rotating segment: %w", err)
	}
	previous := j.file
	if err := j.openSegment(); err != nil {
		if restoreErr := os.Rename(rotated, j.config.Path); restoreErr != nil {
			j.logger.Error("restoring segment after failed rotation", "segment", rotated, "error", restoreErr)
		}
		return err
	}
	if err := previous.Close(); err != nil {
		j.logger.Warn("closing rotated segment", "segment", rotated, "error", err)
	}
	if j.config.Compression == CompressionNone {
		j.logger.Info("journal rotated", "segment", rotated)
		return nil
	}
	archive := rotated + j.config.Compression.Extension()
	if err := compressFile(rotated, archive, j.config.Compression); err != nil {
		return err
	}
	j.logger.Info("journal rotated", "archive", archive)
	return nil
}

// Segments lists rotated segments and archives for the journal at path,
// oldest first.
func Segments(path string) ([]string, error) {
	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		return nil, err
	}
	return matches, nil
}

type countingWriter struct {
	file *os.File
	size *int64
}

func (w countingWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	*w.size += int64(n)
	return n, err
}
