package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/devmirror/devmirror-go/pkg/connection"
)

// Config holds the client configuration. Values come from the YAML file
// first; flags given on the command line override them.
type Config struct {
	URL         string `yaml:"url"`
	LogLevel    string `yaml:"log_level"`
	Interactive bool   `yaml:"interactive"`
	Capture     string `yaml:"capture"`
	MetricsAddr string `yaml:"metrics_addr"`

	Connection ConnectionConfig `yaml:"connection"`
}

// ConnectionConfig mirrors the tunable parts of connection.Config.
type ConnectionConfig struct {
	ConnectTimeout   time.Duration             `yaml:"connect_timeout"`
	RequestTimeout   time.Duration             `yaml:"request_timeout"`
	PollInterval     time.Duration             `yaml:"poll_interval"`
	FastPollInterval time.Duration             `yaml:"fast_poll_interval"`
	MaxPerResponse   int                       `yaml:"max_per_response"`
	AutoReconnect    *bool                     `yaml:"auto_reconnect"`
	ReconnectDelay   time.Duration             `yaml:"reconnect_delay"`
	Backoff          *connection.BackoffConfig `yaml:"backoff"`
}

func defaultConfig() Config {
	return Config{
		URL:      "ws://localhost:8765",
		LogLevel: "info",
	}
}

// flagValues are the raw flag targets. Only flags marked as changed are
// applied on top of the file.
type flagValues struct {
	configFile   string
	url          string
	logLevel     string
	interactive  bool
	capture      string
	metricsAddr  string
	pollInterval time.Duration
	noReconnect  bool
}

func newFlagSet(fv *flagValues) *pflag.FlagSet {
	fs := pflag.NewFlagSet("devmirror", pflag.ContinueOnError)
	fs.StringVarP(&fv.configFile, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&fv.url, "url", "u", "", "server URL (default ws://localhost:8765)")
	fs.StringVar(&fv.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVarP(&fv.interactive, "interactive", "i", false, "start the interactive shell")
	fs.StringVar(&fv.capture, "capture", "", "write a protocol capture to this file")
	fs.StringVar(&fv.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.DurationVar(&fv.pollInterval, "poll-interval", 0, "server status poll interval")
	fs.BoolVar(&fv.noReconnect, "no-reconnect", false, "do not reconnect after the socket closes")
	return fs
}

// loadConfig reads path (if set) and applies the changed flags of fs.
func loadConfig(fs *pflag.FlagSet, fv *flagValues) (Config, error) {
	cfg := defaultConfig()
	if fv.configFile != "" {
		data, err := os.ReadFile(fv.configFile)
		if err != nil {
			return cfg, errors.Annotate(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Annotatef(err, "parse %s", fv.configFile)
		}
	}

	if fs.Changed("url") {
		cfg.URL = fv.url
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if fs.Changed("interactive") {
		cfg.Interactive = fv.interactive
	}
	if fs.Changed("capture") {
		cfg.Capture = fv.capture
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = fv.metricsAddr
	}
	if fs.Changed("poll-interval") {
		cfg.Connection.PollInterval = fv.pollInterval
	}
	if fs.Changed("no-reconnect") {
		reconnect := !fv.noReconnect
		cfg.Connection.AutoReconnect = &reconnect
	}

	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// managerConfig overlays the configured values on the connection defaults.
func (c Config) managerConfig() connection.Config {
	mc := connection.DefaultConfig()
	mc.URL = c.URL

	cc := c.Connection
	if cc.ConnectTimeout > 0 {
		mc.ConnectTimeout = cc.ConnectTimeout
	}
	if cc.RequestTimeout > 0 {
		mc.RequestTimeout = cc.RequestTimeout
	}
	if cc.PollInterval > 0 {
		mc.PollInterval = cc.PollInterval
		if mc.FastPollInterval > mc.PollInterval {
			mc.FastPollInterval = mc.PollInterval
		}
	}
	if cc.FastPollInterval > 0 {
		mc.FastPollInterval = cc.FastPollInterval
	}
	if cc.MaxPerResponse > 0 {
		mc.MaxPerResponse = cc.MaxPerResponse
	}
	if cc.AutoReconnect != nil {
		mc.AutoReconnect = *cc.AutoReconnect
	}
	if cc.ReconnectDelay > 0 {
		mc.ReconnectDelay = cc.ReconnectDelay
	}
	mc.Backoff = cc.Backoff
	return mc
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, errors.NotValidf("log level %q (use: debug, info, warn, error)", s)
}

func (c Config) String() string {
	return fmt.Sprintf("url=%s log_level=%s capture=%q metrics=%q", c.URL, c.LogLevel, c.Capture, c.MetricsAddr)
}
