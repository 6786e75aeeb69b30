// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/benchlink/lib/version"
)

func main() {
	if err := run(os.Args[1:], streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// streams are the process's standard streams, replaceable in tests.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func run(args []string, s streams) error {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintf(s.out, "benchlink %s\n", version.Info())
		return nil
	}
	return rootCommand(s).Execute(args)
}

func rootCommand(s streams) *Command {
	return &Command{
		Name:    "benchlink",
		Summary: "Talk to bench instruments over TCP and serial lines",
		Help:    s.err,
		Subcommands: []*Command{
			consoleCommand(s),
			serveCommand(s),
			attachCommand(s),
			listCommand(s),
		},
	}
}
