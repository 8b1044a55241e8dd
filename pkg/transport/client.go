package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// Transport errors.
const (
	ErrConnectionClosed = errors.ConstError("connection closed")
	ErrDialFailed       = errors.ConstError("dial failed")
)

// DefaultMaxMessageSize is the default read limit. Watchable list pages are
// the largest messages the server sends.
const DefaultMaxMessageSize = 4 << 20

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	// HandshakeTimeout bounds the HTTP upgrade (default: 10s).
	HandshakeTimeout time.Duration

	// MaxMessageSize is the read limit in bytes (default: 4MB).
	MaxMessageSize int64

	// WriteTimeout is the deadline applied to every write (default: 5s).
	WriteTimeout time.Duration

	// Header is sent with the upgrade request.
	Header http.Header

	// KeepAlive configuration. A zero PingInterval disables keep-alive.
	KeepAlive KeepAliveConfig
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   DefaultMaxMessageSize,
		WriteTimeout:     5 * time.Second,
		KeepAlive:        DefaultKeepAliveConfig(),
	}
}

// Client dials WebSocket connections.
type Client struct {
	config ClientConfig
	dialer *websocket.Dialer
}

// NewClient creates a new client. Zero fields fall back to defaults, except
// KeepAlive which stays disabled when left zero.
func NewClient(config ClientConfig) *Client {
	def := DefaultClientConfig()
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = def.HandshakeTimeout
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = def.WriteTimeout
	}

	return &Client{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Dial connects to url and returns the open connection.
func (c *Client) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, url, c.config.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(ErrDialFailed, "%s: %s (%v)", url, resp.Status, err)
		}
		return nil, errors.Annotatef(ErrDialFailed, "%s: %v", url, err)
	}
	ws.SetReadLimit(c.config.MaxMessageSize)

	conn := &ClientConn{
		ws:           ws,
		writeTimeout: c.config.WriteTimeout,
		closeCh:      make(chan struct{}),
	}
	if c.config.KeepAlive.PingInterval > 0 {
		conn.keepAlive = newKeepAlive(c.config.KeepAlive, conn)
		conn.keepAlive.start()
	}
	return conn, nil
}

// ClientConn is an open WebSocket connection.
type ClientConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	keepAlive    *keepAlive
	closeCh      chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// WriteMessage sends data as one text frame.
func (c *ClientConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.ws.WriteMessage(websocket.TextMessage, data))
}

// ReadMessage returns the payload of the next text or binary frame.
// Control frames are handled internally.
func (c *ClientConn) ReadMessage() ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}
		return nil, errors.Trace(err)
	}
	return data, nil
}

// Close sends a close frame (best effort) and closes the socket.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if c.keepAlive != nil {
			c.keepAlive.stop()
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Closed returns a channel closed once Close has been called.
func (c *ClientConn) Closed() <-chan struct{} {
	return c.closeCh
}
