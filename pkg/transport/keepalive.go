package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Keep-alive constants.
const (
	// DefaultPingInterval is the default interval between pings.
	DefaultPingInterval = 10 * time.Second

	// DefaultPongTimeout is the default timeout waiting for a pong response.
	DefaultPongTimeout = 5 * time.Second

	// DefaultMaxMissedPongs is the default number of missed pongs before disconnect.
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is the timeout waiting for a pong response.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of missed pongs before disconnect.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay calculates the maximum detection delay for this configuration.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// keepAlive sends periodic pings and keeps the read deadline moving while
// pongs arrive. A dead peer therefore surfaces as a read error on the
// connection's reader, which is the only place disconnects are detected.
type keepAlive struct {
	config KeepAliveConfig
	conn   *ClientConn

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func newKeepAlive(config KeepAliveConfig, conn *ClientConn) *keepAlive {
	if config.PongTimeout == 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs == 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return &keepAlive{
		config: config,
		conn:   conn,
		stopCh: make(chan struct{}),
	}
}

func (ka *keepAlive) start() {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.mu.Unlock()

	ws := ka.conn.ws
	deadline := ka.config.DetectionDelay()
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	go ka.loop()
}

func (ka *keepAlive) stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

func (ka *keepAlive) loop() {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ka.stopCh:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage.
			err := ka.conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(ka.config.PongTimeout))
			if err != nil {
				// The reader sees the failure through the read deadline.
				return
			}
		}
	}
}
