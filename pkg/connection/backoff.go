package connection

import (
	"math"
	"math/rand"
	"time"
)

// Backoff defaults, used for zero BackoffConfig fields.
const (
	InitialBackoff    = 500 * time.Millisecond
	MaxBackoff        = 30 * time.Second
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25
)

// DelayPolicy yields reconnect delays. The Manager calls it with its lock
// held, so implementations need no synchronization of their own.
type DelayPolicy interface {
	// Next returns the delay before the next attempt.
	Next() time.Duration

	// Reset is called once a socket opens.
	Reset()
}

// FixedDelay always waits the same time.
type FixedDelay time.Duration

func (d FixedDelay) Next() time.Duration { return time.Duration(d) }

func (FixedDelay) Reset() {}

// BackoffConfig parameterizes exponential reconnect backoff. Zero fields
// take the package defaults; Jitter is used as given.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max < c.Initial {
		c.Max = max(MaxBackoff, c.Initial)
	}
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	c.Jitter = max(c.Jitter, 0)
	return c
}

// Backoff is a DelayPolicy whose base delay grows by Multiplier per failed
// attempt up to Max. Each delay adds up to Jitter times the base.
type Backoff struct {
	cfg      BackoffConfig
	attempts int
	random   func() float64
}

// NewBackoff returns a Backoff with the default parameters and jitter.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{Jitter: JitterFactor})
}

// NewBackoffWithConfig returns a Backoff for cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.withDefaults(), random: rand.Float64}
}

// Current returns the base delay of the next attempt, without jitter.
func (b *Backoff) Current() time.Duration {
	base := float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(b.attempts))
	if base >= float64(b.cfg.Max) {
		return b.cfg.Max
	}
	return time.Duration(base)
}

// Next returns the jittered delay for this attempt and counts it.
func (b *Backoff) Next() time.Duration {
	base := b.Current()
	b.attempts++
	if b.cfg.Jitter == 0 {
		return base
	}
	return base + time.Duration(float64(base)*b.cfg.Jitter*b.random())
}

func (b *Backoff) Reset() { b.attempts = 0 }

// Attempts returns the attempts counted since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

var (
	_ DelayPolicy = FixedDelay(0)
	_ DelayPolicy = (*Backoff)(nil)
)
