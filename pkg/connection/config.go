package connection

import (
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/log"
	"github.com/devmirror/devmirror-go/pkg/metrics"
	"github.com/devmirror/devmirror-go/pkg/transport"
)

// Config defaults.
const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultRequestTimeout   = 5 * time.Second
	DefaultReconnectDelay   = 1 * time.Second
	DefaultPollInterval     = 2 * time.Second
	DefaultFastPollInterval = 500 * time.Millisecond
	DefaultMaxPerResponse   = 500
)

// Config configures a Manager.
type Config struct {
	// URL is the server endpoint (ws:// or wss://).
	URL string

	// Dialer opens the socket. Defaults to a transport.Client.
	Dialer transport.Dialer

	// Clock drives every timer. Defaults to clock.WallClock.
	Clock clock.Clock

	// ConnectTimeout bounds a connection attempt.
	ConnectTimeout time.Duration

	// RequestTimeout is the default deadline of awaited requests.
	RequestTimeout time.Duration

	// AutoReconnect schedules a reconnect after every close.
	AutoReconnect bool

	// ReconnectDelay is the fixed delay used when Backoff is nil.
	ReconnectDelay time.Duration

	// Backoff enables exponential reconnect backoff.
	Backoff *BackoffConfig

	// PollInterval is the health poll period.
	PollInterval time.Duration

	// FastPollInterval is used while the datalogger is acquiring.
	FastPollInterval time.Duration

	// MaxPerResponse caps the entries per list page.
	MaxPerResponse int

	// Logger is used for operational logging. If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures every frame and state change. If nil,
	// capture is disabled.
	ProtocolLogger log.Logger

	// Metrics receives counters. If nil, metrics are disabled.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a configuration with default timings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   DefaultConnectTimeout,
		RequestTimeout:   DefaultRequestTimeout,
		AutoReconnect:    true,
		ReconnectDelay:   DefaultReconnectDelay,
		PollInterval:     DefaultPollInterval,
		FastPollInterval: DefaultFastPollInterval,
		MaxPerResponse:   DefaultMaxPerResponse,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.NotValidf("empty server URL")
	}
	if c.ConnectTimeout <= 0 {
		return errors.NotValidf("connect timeout %v", c.ConnectTimeout)
	}
	if c.RequestTimeout <= 0 {
		return errors.NotValidf("request timeout %v", c.RequestTimeout)
	}
	if c.AutoReconnect && c.Backoff == nil && c.ReconnectDelay <= 0 {
		return errors.NotValidf("reconnect delay %v", c.ReconnectDelay)
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("poll interval %v", c.PollInterval)
	}
	if c.FastPollInterval <= 0 || c.FastPollInterval > c.PollInterval {
		return errors.NotValidf("fast poll interval %v (poll interval %v)", c.FastPollInterval, c.PollInterval)
	}
	if c.MaxPerResponse <= 0 {
		return errors.NotValidf("max per response %d", c.MaxPerResponse)
	}
	return nil
}
