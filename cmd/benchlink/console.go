// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/benchlink/activity"
	"github.com/bureau-foundation/benchlink/session"
	"github.com/bureau-foundation/benchlink/value"
)

const (
	defaultHistory = 20
	acquireTimeout = 5 * time.Second
)

func consoleCommand(s streams) *Command {
	var common commonFlags
	var instrument string
	return &Command{
		Name:    "console",
		Summary: "Open an instrument in this process and talk to it",
		Usage:   "benchlink console [--instrument ID] [flags]",
		Help:    s.err,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("console", pflag.ContinueOnError)
			common.add(flagSet)
			flagSet.StringVarP(&instrument, "instrument", "i", "", "instrument ID (default: first configured)")
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
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}

			output := &printer{w: s.out}
			b, err := openBench(cfg, logger, benchOptions{Sink: output})
			if err != nil {
				return err
			}
			defer b.Close()
			connection, err := b.connection(instrument)
			if err != nil {
				return err
			}
			b.autoConnect()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return newConsole(connection, s.in, output, b.ring).run(ctx)
		},
	}
}

// printer serializes console output from the input loop, status
// follower and value deliveries. It is also the console's Receiver.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) Receive(instrumentID string, v value.Value) {
	p.printf("%s < %s\n", instrumentID, v)
}

// console reads lines and applies them to one session. Plain lines are
// sent as commands; lines starting with ':' control the session.
type console struct {
	session session.Session
	in      io.Reader
	output  *printer

	// history is nil when the activity record lives in another
	// process.
	history *activity.Ring
	prompt  bool
}

func newConsole(s session.Session, in io.Reader, output *printer, history *activity.Ring) *console {
	return &console{
		session: s,
		in:      in,
		output:  output,
		history: history,
		prompt:  isTerminal(in),
	}
}

// run processes input until it ends, :quit is read, or ctx is done.
func (c *console) run(ctx context.Context) error {
	statuses, unsubscribe := c.session.Subscribe()
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		c.follow(statuses)
	}()
	defer func() {
		unsubscribe()
		<-followed
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if c.prompt {
			c.output.printf("%s> ", c.session.ID())
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.execute(ctx, line)
			if err != nil {
				c.output.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *console) follow(statuses <-chan session.Status) {
	for status := range statuses {
		c.output.printf("%s\n", describeStatus(c.session.ID(), status))
	}
}

func describeStatus(id string, status session.Status) string {
	if status.ErrorCode == session.ErrorNone {
		return fmt.Sprintf("%s: %s", id, status.State)
	}
	return fmt.Sprintf("%s: %s (%s: %s)", id, status.State, status.ErrorCode, status.Error)
}

// execute applies one input line and reports whether the console
// should stop.
func (c *console) execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, ":") {
		return false, c.session.Send(line, session.SendOptions{})
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "connect":
		return false, c.session.Connect()
	case "disconnect":
		return false, c.session.Disconnect()
	case "abort":
		return false, c.session.AbortLongOperation()
	case "dismiss":
		return false, c.session.DismissError()
	case "status":
		c.showStatus()
		return false, nil
	case "download":
		return false, c.download(rest)
	case "acquire":
		acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
		defer cancel()
		return false, c.session.Acquire(acquireCtx, c.output, rest != "notrace")
	case "release":
		releaseCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
		defer cancel()
		return false, c.session.Release(releaseCtx)
	case "history":
		return false, c.showHistory(rest)
	case "help":
		c.output.printf("%s", consoleHelp)
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown console command %q (try :help)", name)
	}
}

// download parses "<file> <command>" and starts the transfer.
func (c *console) download(arguments string) error {
	path, command, ok := strings.Cut(arguments, " ")
	command = strings.TrimSpace(command)
	if !ok || path == "" || command == "" {
		return errors.New("usage: :download <file> <command>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading download payload: %w", err)
	}
	return c.session.Download(session.DownloadInstructions{Command: command, Data: data})
}

func (c *console) showStatus() {
	c.output.printf("%s\n", describeStatus(c.session.ID(), c.session.Status()))
	connection, ok := c.session.(*session.Connection)
	if !ok {
		return
	}
	if identification := connection.Identification(); identification != "" {
		c.output.printf("  identification: %s\n", identification)
	}
	if since, connected := connection.ConnectedSince(); connected {
		c.output.printf("  connected since: %s\n", since.Format(time.RFC3339))
	}
	if progress := connection.Progress(); progress.Active() {
		expected := "unknown"
		if progress.Expected >= 0 {
			expected = strconv.Itoa(progress.Expected)
		}
		c.output.printf("  %s: %d of %s bytes\n", progress.Kind, progress.Transferred, expected)
	}
}

func (c *console) showHistory(arguments string) error {
	if c.history == nil {
		return errors.New("history is kept by the process that owns the instrument")
	}
	count := defaultHistory
	if arguments != "" {
		parsed, err := strconv.Atoi(arguments)
		if err != nil || parsed < 1 {
			return fmt.Errorf("history count must be a positive integer, got %q", arguments)
		}
		count = parsed
	}
	for _, entry := range c.history.Recent(count) {
		if entry.Instrument == c.session.ID() {
			c.output.printf("%s\n", entry)
		}
	}
	return nil
}

const consoleHelp = `Lines without a leading ':' are sent to the instrument.

  :connect              connect and identify
  :disconnect           close the connection
  :download FILE CMD    send CMD followed by FILE as a block
  :abort                abort the running transfer
  :acquire [notrace]    route values to this console only
  :release              give up exclusive access
  :status               show the session state
  :history [N]          show recent activity
  :dismiss              clear the last error
  :quit                 leave the console
`
