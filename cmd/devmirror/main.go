// Command devmirror mirrors the watchables of an embedded device through its
// debug server.
//
// It connects to the server over WebSocket, tracks the server, device and
// firmware state, downloads the variable, alias and RPV definitions when
// they become available, and streams the values of watched entries.
//
// Usage:
//
//	devmirror [flags]
//	devmirror dump [flags] <file>
//
// Flags:
//
//	-c, --config string        YAML configuration file
//	-u, --url string           Server URL (default ws://localhost:8765)
//	    --log-level string     Log level: debug, info, warn, error
//	-i, --interactive          Start the interactive shell
//	    --capture string       Write a protocol capture to this file
//	    --metrics-addr string  Serve Prometheus metrics on this address
//	    --poll-interval dur    Server status poll interval
//	    --no-reconnect         Do not reconnect after the socket closes
//
// Examples:
//
//	# Explore a device interactively
//	devmirror -u ws://10.0.0.5:8765 -i
//
//	# Run headless with a capture and metrics
//	devmirror --capture session.dmlog --metrics-addr :9464
//
//	# Inspect a capture
//	devmirror dump --direction in --cmd watchable_update session.dmlog
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/devmirror/devmirror-go/cmd/devmirror/interactive"
	"github.com/devmirror/devmirror-go/pkg/connection"
	"github.com/devmirror/devmirror-go/pkg/log"
	"github.com/devmirror/devmirror-go/pkg/metrics"
	"github.com/devmirror/devmirror-go/pkg/mirror"
	"github.com/devmirror/devmirror-go/pkg/store"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "dump" {
		err = runDump(os.Args[2:], os.Stdout)
	} else {
		err = run(os.Args[1:])
	}
	if err != nil && err != pflag.ErrHelp {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var fv flagValues
	fs := newFlagSet(&fv)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs, &fv)
	if err != nil {
		return err
	}
	level, _ := parseLevel(cfg.LogLevel)

	// The shell owns the terminal; logs go through its writer.
	var shell *interactive.Shell
	var logOut io.Writer = os.Stderr
	if cfg.Interactive {
		shell, err = interactive.New(nil)
		if err != nil {
			return err
		}
		logOut = shell.Stdout()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	logger.Info("devmirror starting", "config", cfg.String())

	mc := cfg.managerConfig()
	mc.Logger = logger.With("component", "connection")

	var capture *log.FileLogger
	if cfg.Capture != "" {
		capture, err = log.NewFileLogger(cfg.Capture)
		if err != nil {
			return err
		}
		defer func() {
			if n := capture.Dropped(); n > 0 {
				logger.Warn("capture events dropped", "count", n)
			}
			capture.Close()
		}()
	}
	mc.ProtocolLogger = protocolLogger(capture, logger, level)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		mc.Metrics = metrics.New(reg)
		exporter := metrics.NewExporter(cfg.MetricsAddr, reg)
		if err := exporter.Start(); err != nil {
			return err
		}
		logger.Info("serving metrics", "addr", exporter.Addr())
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = exporter.Stop(ctx)
		}()
	}

	st := store.New()
	st.SetLogger(logger.With("component", "store"))
	mgr, err := connection.NewManager(mc, st)
	if err != nil {
		return err
	}
	mi := mirror.New(mgr, logger.With("component", "mirror"))
	mgr.OnEvent(func(ev connection.Event) {
		logger.Info("event", "type", ev.Type.String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mi.Start(); err != nil {
		return err
	}
	defer mi.Stop()

	if shell != nil {
		shell.Attach(mi)
		go shell.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	return nil
}

// protocolLogger fans capture events out to the capture file and, at debug
// level, to the operational log.
func protocolLogger(capture *log.FileLogger, logger *slog.Logger, level slog.Level) log.Logger {
	var loggers []log.Logger
	if capture != nil {
		loggers = append(loggers, capture)
	}
	if level <= slog.LevelDebug {
		loggers = append(loggers, log.NewSlogAdapter(logger.With("component", "protocol")))
	}
	switch len(loggers) {
	case 0:
		return nil
	case 1:
		return loggers[0]
	}
	return log.NewMultiLogger(loggers...)
}
