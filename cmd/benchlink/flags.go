// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/benchlink/lib/config"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	verbose    bool
	logFormat  string
}

func (f *commonFlags) add(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "path to config file (default: $BENCHLINK_CONFIG)")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level, including instrument traffic")
	flagSet.StringVar(&f.logFormat, "log-format", "auto", "log format: auto, text or json")
}

// load reads and validates the configuration named by --config or
// BENCHLINK_CONFIG.
func (f *commonFlags) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (f *commonFlags) logger(w io.Writer) (*slog.Logger, error) {
	return newLogger(w, f.verbose, f.logFormat)
}

// newLogger builds the process logger. The auto format picks text for
// a terminal and JSON otherwise.
func newLogger(w io.Writer, verbose bool, format string) (*slog.Logger, error) {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	if format == "auto" {
		format = "json"
		if isTerminal(w) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want auto, text or json)", format)
	}
}

func isTerminal(stream any) bool {
	file, ok := stream.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
