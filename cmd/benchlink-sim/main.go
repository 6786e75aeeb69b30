// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/benchlink/lib/version"
	"github.com/bureau-foundation/benchlink/simulator"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	listen         string
	identification string
	blockSize      int
	mute           bool
	verbose        bool
}

func parseFlags(args []string, output io.Writer) (options, bool, error) {
	var parsed options
	var showVersion bool
	flagSet := pflag.NewFlagSet("benchlink-sim", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.StringVar(&parsed.listen, "listen", "127.0.0.1:5025", "TCP address to answer on")
	flagSet.StringVar(&parsed.identification, "identification", simulator.DefaultIdentification, "*IDN? answer")
	flagSet.IntVar(&parsed.blockSize, "block-size", 4096, "size of the DATA? payload in bytes")
	flagSet.BoolVar(&parsed.mute, "mute", false, "read commands but never answer")
	flagSet.BoolVarP(&parsed.verbose, "verbose", "v", false, "log every command")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return options{}, false, err
	}
	if flagSet.NArg() > 0 {
		return options{}, false, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	if parsed.blockSize < 0 {
		return options{}, false, fmt.Errorf("--block-size must not be negative")
	}
	return parsed, showVersion, nil
}

func run(args []string, stderr io.Writer) error {
	parsed, showVersion, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("benchlink-sim %s\n", version.Info())
		return nil
	}

	level := slog.LevelInfo
	if parsed.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	random := rand.New(rand.NewPCG(uint64(parsed.blockSize), 0x5eed))
	block := make([]byte, parsed.blockSize)
	for i := range block {
		block[i] = byte(random.UintN(256))
	}

	sim, err := simulator.Listen(parsed.listen, simulator.Config{
		Identification: parsed.identification,
		Measure:        func() float64 { return 1 + rand.NormFloat64()*0.001 },
		Block:          block,
		Mute:           parsed.mute,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	logger.Debug("simulator configured",
		"identification", parsed.identification,
		"block_size", parsed.blockSize,
		"version", version.Info(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return sim.Serve(ctx)
}
