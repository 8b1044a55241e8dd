package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/devmirror/devmirror-go/pkg/log"
)

const dumpUsage = `Usage: devmirror dump [flags] <file>

Prints a protocol capture written with --capture.

Flags:
`

func runDump(args []string, w io.Writer) error {
	var (
		connID    string
		cmd       string
		direction string
		category  string
		payload   bool
	)
	fs := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	fs.StringVar(&connID, "conn-id", "", "only events of this connection")
	fs.StringVar(&cmd, "cmd", "", "only messages with this command")
	fs.StringVar(&direction, "direction", "", "only events in this direction: in, out")
	fs.StringVar(&category, "category", "", "only events of this category: message, state, error")
	fs.BoolVar(&payload, "payload", false, "print message payloads")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, dumpUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected one capture file")
	}

	filter := log.Filter{ConnectionID: connID, Cmd: cmd}
	if direction != "" {
		d, err := parseDirection(direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if category != "" {
		c, err := parseCategory(category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}

	r, err := log.NewFilteredReader(fs.Arg(0), filter)
	if err != nil {
		return err
	}
	defer r.Close()

	n := 0
	for {
		event, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Annotatef(err, "event %d", n+1)
		}
		formatEvent(w, event, payload)
		n++
	}
	fmt.Fprintf(w, "%d events\n", n)
	return nil
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	}
	return 0, errors.NotValidf("direction %q (use: in, out)", s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message", "msg":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	}
	return 0, errors.NotValidf("category %q (use: message, state, error)", s)
}

// formatEvent writes one event as a header line plus indented details.
func formatEvent(w io.Writer, event log.Event, payload bool) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var label string
	switch {
	case event.Message != nil:
		label = event.Message.Type.String() + " " + event.Message.Cmd
	case event.StateChange != nil:
		label = "STATE " + event.StateChange.Entity.String()
	case event.Error != nil:
		label = "ERROR"
	default:
		label = "UNKNOWN"
	}
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s\n", ts, shortenConnID(event.ConnectionID), event.Direction, label)

	switch {
	case event.Message != nil:
		m := event.Message
		if m.RequestID != nil {
			fmt.Fprintf(w, "  ReqID: %d\n", *m.RequestID)
		}
		fmt.Fprintf(w, "  Size: %d bytes\n", m.Size)
		if payload && len(m.Payload) > 0 {
			fmt.Fprintf(w, "  Payload: %s", m.Payload)
			if m.Truncated {
				fmt.Fprint(w, " (truncated)")
			}
			fmt.Fprintln(w)
		}
	case event.StateChange != nil:
		sc := event.StateChange
		if sc.OldState != "" {
			fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
		} else {
			fmt.Fprintf(w, "  -> %s\n", sc.NewState)
		}
		if sc.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
		}
	case event.Error != nil:
		fmt.Fprintf(w, "  Error: %s\n", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(w, "  Context: %s\n", event.Error.Context)
		}
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
