// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how rotated journal segments are archived.
type Compression string

const (
	// CompressionNone keeps rotated segments as plain JSON lines.
	CompressionNone Compression = "none"

	// CompressionLZ4 writes lz4 frames: fast, modest ratio.
	CompressionLZ4 Compression = "lz4"

	// CompressionZstd writes zstd at the default level. Activity is
	// highly repetitive text and compresses well.
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a compression name. The empty string selects
// CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionLZ4, CompressionZstd:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// Extension returns the file suffix for archives in this format.
func (c Compression) Extension() string {
	switch c {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// compressFile writes source to destination in the given format and
// removes source on success.
func compressFile(source, destination string, compression Compression) error {
	input, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer input.Close()

	output, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	writer, err := newCompressor(output, compression)
	if err == nil {
		_, err = io.Copy(writer, input)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
	}
	if syncErr := output.Sync(); err == nil {
		err = syncErr
	}
	if closeErr := output.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destination)
		return fmt.Errorf("compressing %s: %w", source, err)
	}
	return os.Remove(source)
}

func newCompressor(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

// OpenArchive opens a journal segment for reading, decompressing it
// according to its file extension. Plain segments are read as is.
func OpenArchive(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, CompressionLZ4.Extension()):
		return readCloser{Reader: lz4.NewReader(file), closers: []io.Closer{file}}, nil
	case strings.HasSuffix(path, CompressionZstd.Extension()):
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("opening zstd archive %s: %w", path, err)
		}
		return readCloser{Reader: decoder, closers: []io.Closer{zstdCloser{decoder}, file}}, nil
	default:
		return file, nil
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r readCloser) Close() error {
	var errs []error
	for _, closer := range r.closers {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// zstdCloser adapts zstd.Decoder, whose Close returns nothing.
type zstdCloser struct {
	decoder *zstd.Decoder
}

func (c zstdCloser) Close() error {
	c.decoder.Close()
	return nil
}
