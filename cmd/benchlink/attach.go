// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/benchlink/relay"
	"github.com/bureau-foundation/benchlink/session"
)

const syncTimeout = 5 * time.Second

func attachCommand(s streams) *Command {
	var common commonFlags
	var instrument string
	return &Command{
		Name:    "attach",
		Summary: "Open a console on an instrument owned by a serve process",
		Usage:   "benchlink attach [--instrument ID] [flags]",
		Help:    s.err,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("attach", pflag.ContinueOnError)
			common.add(flagSet)
			flagSet.StringVarP(&instrument, "instrument", "i", "", "instrument ID (default: first served)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := common.load()
			if err != nil {
				return err
			}
			logger, err := common.logger(s.err)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := relay.NewClient(cfg.Relay.Socket, logger)
			defer client.Close()
			return attach(ctx, client, instrument, streams{in: s.in, out: s.out, err: s.err})
		},
	}
}

// attach mirrors instrument through client and runs a console on the
// mirror.
func attach(ctx context.Context, client *relay.Client, instrument string, s streams) error {
	if instrument == "" {
		instruments, err := client.List(ctx)
		if err != nil {
			return err
		}
		if len(instruments) == 0 {
			return errors.New("the relay serves no instruments")
		}
		instrument = instruments[0].ID
	}

	proxy, err := session.NewProxy(ctx, instrument, client, nil)
	if err != nil {
		return err
	}
	defer proxy.Close()

	select {
	case <-proxy.Synced():
	case <-proxy.Done():
		return fmt.Errorf("instrument %s went away", instrument)
	case <-time.After(syncTimeout):
		return fmt.Errorf("timed out waiting for the status of %s", instrument)
	case <-ctx.Done():
		return nil
	}

	consoleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-proxy.Done():
			cancel()
		case <-consoleCtx.Done():
		}
	}()
	return newConsole(proxy, s.in, &printer{w: s.out}, nil).run(consoleCtx)
}

func listCommand(s streams) *Command {
	var common commonFlags
	return &Command{
		Name:    "list",
		Summary: "List the instruments a serve process owns",
		Help:    s.err,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			common.add(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := common.load()
			if err != nil {
				return err
			}
			logger, err := common.logger(s.err)
			if err != nil {
				return err
			}
			client := relay.NewClient(cfg.Relay.Socket, logger)
			defer client.Close()
			return list(context.Background(), client, s)
		},
	}
}

func list(ctx context.Context, client *relay.Client, s streams) error {
	instruments, err := client.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(s.out, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ID\tSTATE\tADDRESS\tIDENTIFICATION\n")
	for _, instrument := range instruments {
		state := string(instrument.Status.State)
		if instrument.Status.ErrorCode != session.ErrorNone {
			state += " (" + string(instrument.Status.ErrorCode) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", instrument.ID, state, instrument.Params, instrument.Identification)
	}
	return tw.Flush()
}
