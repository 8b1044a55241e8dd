// Package interactive provides the interactive command-line interface
// for devmirror.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/gosuri/uitable"
	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/download"
	"github.com/devmirror/devmirror-go/pkg/mirror"
	"github.com/devmirror/devmirror-go/pkg/store"
)

// writeTimeout bounds a write command.
const writeTimeout = 10 * time.Second

// Shell handles interactive mode.
type Shell struct {
	mi         *mirror.Mirror
	rl         *readline.Instance
	out        io.Writer
	subscriber string
}

// New creates a shell reading from the terminal.
func New(mi *mirror.Mirror) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "devmirror> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, errors.Annotate(err, "create readline")
	}
	s := newShell(mi, rl.Stdout())
	s.rl = rl
	return s, nil
}

// Attach sets the mirror the commands operate on. It must be called
// before Run when the shell was created without one.
func (s *Shell) Attach(mi *mirror.Mirror) {
	s.mi = mi
}

func newShell(mi *mirror.Mirror, out io.Writer) *Shell {
	return &Shell{
		mi:         mi,
		out:        out,
		subscriber: "shell-" + uuid.NewString(),
	}
}

func completer() *readline.PrefixCompleter {
	categories := func(extra ...readline.PrefixCompleterInterface) []readline.PrefixCompleterInterface {
		return append([]readline.PrefixCompleterInterface{
			readline.PcItem("var"),
			readline.PcItem("alias"),
			readline.PcItem("rpv"),
		}, extra...)
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("status"),
		readline.PcItem("ls", categories()...),
		readline.PcItem("get", categories()...),
		readline.PcItem("watch", categories()...),
		readline.PcItem("unwatch", categories(readline.PcItem("all"))...),
		readline.PcItem("write", categories()...),
		readline.PcItem("reload", readline.PcItem("varalias"), readline.PcItem("rpv")),
		readline.PcItem("count"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output to avoid interfering with the input line.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()
	defer s.mi.Store().UnwatchAll(s.subscriber)

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if s.Execute(ctx, line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "status", "st":
		s.cmdStatus()
	case "ls", "list":
		err = s.cmdList(args)
	case "get":
		err = s.cmdGet(args)
	case "watch", "w":
		err = s.cmdWatch(args)
	case "unwatch", "uw":
		err = s.cmdUnwatch(args)
	case "write":
		err = s.cmdWrite(ctx, args)
	case "reload":
		err = s.cmdReload(args)
	case "count":
		s.cmdCount()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
devmirror commands:
  status                       - Show server, device and download status
  count                        - Show entry counts per category
  ls <category> [path]         - List a folder (category: var, alias, rpv)
  get <category> <path>        - Show an entry and its last value
  watch <category> <path>      - Stream value updates of an entry
  unwatch <category> <path>    - Stop streaming an entry
  unwatch all                  - Stop streaming everything
  write <category> <path> <v>  - Write a value (enum entries accept names)
  reload <varalias|rpv>        - Download a category group again
  help                         - Show this help
  quit                         - Exit`)
}

func (s *Shell) cmdStatus() {
	st := s.mi.Status()

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("Server:", st.Server.String())
	table.AddRow("Device:", st.Device.String())
	if st.DeviceInfo != nil {
		table.AddRow("Device ID:", st.DeviceInfo.DeviceID)
		table.AddRow("Device name:", st.DeviceInfo.DisplayName)
		table.AddRow("Protocol:", fmt.Sprintf("%d.%d", st.DeviceInfo.ProtocolMajor, st.DeviceInfo.ProtocolMinor))
	}
	if st.Firmware != nil {
		fw := st.Firmware.FirmwareID
		if md := st.Firmware.Metadata; md != nil && md.ProjectName != "" {
			fw = fmt.Sprintf("%s (%s %s)", fw, md.ProjectName, md.Version)
		}
		table.AddRow("Firmware:", fw)
	}
	if st.Datalogging != nil {
		dl := string(st.Datalogging.State)
		if st.Datalogging.CompletionRatio != nil {
			dl = fmt.Sprintf("%s (%.0f%%)", dl, *st.Datalogging.CompletionRatio*100)
		}
		table.AddRow("Datalogging:", dl)
	}
	downloads := "none"
	if len(st.Downloads) > 0 {
		names := make([]string, len(st.Downloads))
		for i, k := range st.Downloads {
			names[i] = k.String()
		}
		downloads = strings.Join(names, ", ")
	}
	table.AddRow("Downloads:", downloads)
	table.AddRow("Pending requests:", st.Pending)
	table.AddRow("Subscribed:", st.Subscribed)
	fmt.Fprintln(s.out, table)
}

func (s *Shell) cmdCount() {
	st := s.mi.Status()
	table := uitable.New()
	table.AddRow("CATEGORY", "ENTRIES", "READY")
	for _, c := range store.AllCategories {
		table.AddRow(c.String(), st.Counts[c], st.Ready[c])
	}
	fmt.Fprintln(s.out, table)
}

func (s *Shell) cmdList(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: ls <category> [path]")
	}
	c, err := store.ParseCategory(args[0])
	if err != nil {
		return err
	}
	path := "/"
	if len(args) > 1 {
		path = args[1]
	}

	children, err := s.mi.Store().Children(c, path)
	if err != nil {
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 50
	for _, f := range children.SortedFolders() {
		table.AddRow(f.Name+"/", "", "")
	}
	for _, name := range children.SortedLeaves() {
		e := children.Leaves[name]
		table.AddRow(name, string(e.DataType()), formatValue(e.Value()))
	}
	if len(table.Rows) == 0 {
		fmt.Fprintln(s.out, "(empty)")
		return nil
	}
	fmt.Fprintln(s.out, table)
	return nil
}

func (s *Shell) entry(args []string, usage string) (*store.Entry, error) {
	if len(args) < 2 {
		return nil, errors.New("usage: " + usage)
	}
	c, err := store.ParseCategory(args[0])
	if err != nil {
		return nil, err
	}
	return s.mi.Store().Get(c, args[1])
}

func (s *Shell) cmdGet(args []string) error {
	e, err := s.entry(args, "get <category> <path>")
	if err != nil {
		return err
	}

	table := uitable.New()
	table.AddRow("Path:", e.DisplayPath())
	table.AddRow("Category:", e.Category().String())
	table.AddRow("Server ID:", e.ServerID())
	table.AddRow("Datatype:", string(e.DataType()))
	if enum := e.Enum(); enum != nil {
		table.AddRow("Enum:", formatEnum(enum.Name, enum.Values))
	}
	table.AddRow("Value:", formatValue(e.Value()))
	table.AddRow("Watched:", s.mi.Store().IsWatched(e))
	table.AddRow("Subscribed:", s.mi.Subscribed(e.ServerID()))
	fmt.Fprintln(s.out, table)
	return nil
}

func (s *Shell) cmdWatch(args []string) error {
	e, err := s.entry(args, "watch <category> <path>")
	if err != nil {
		return err
	}
	err = s.mi.Store().WatchEntry(e, s.subscriber, func(e *store.Entry, v any) {
		fmt.Fprintf(s.out, "[UPDATE] %s %s = %s\n", e.Category(), e.DisplayPath(), formatValue(v))
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Watching %s\n", e.DisplayPath())
	return nil
}

func (s *Shell) cmdUnwatch(args []string) error {
	if len(args) == 1 && strings.EqualFold(args[0], "all") {
		n := len(s.mi.Store().WatchedBy(s.subscriber))
		s.mi.Store().UnwatchAll(s.subscriber)
		fmt.Fprintf(s.out, "Stopped watching %d entries\n", n)
		return nil
	}
	e, err := s.entry(args, "unwatch <category> <path> | unwatch all")
	if err != nil {
		return err
	}
	if err := s.mi.Store().Unwatch(s.subscriber, e); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Stopped watching %s\n", e.DisplayPath())
	return nil
}

func (s *Shell) cmdWrite(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: write <category> <path> <value>")
	}
	c, err := store.ParseCategory(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	value := strings.Join(args[2:], " ")
	if err := s.mi.Write(ctx, c, args[1], value); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Wrote %s = %s\n", args[1], value)
	return nil
}

func (s *Shell) cmdReload(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: reload <varalias|rpv>")
	}
	kind, err := download.ParseKind(args[0])
	if err != nil {
		return err
	}
	if err := s.mi.Manager().Reload(kind); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Reloading %s\n", kind)
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}

func formatEnum(name string, values map[string]int64) string {
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return values[names[i]] < values[names[j]] })

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, values[n])
	}
	return fmt.Sprintf("%s {%s}", name, strings.Join(parts, ", "))
}
