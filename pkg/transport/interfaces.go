package transport

import "context"

// Conn is an open message connection to the server.
// Implemented by ClientConn.
type Conn interface {
	// ReadMessage blocks until a whole message arrives.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one message. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close closes the connection. Further calls are no-ops.
	Close() error

	// RemoteAddr returns the remote network address.
	RemoteAddr() string
}

// Dialer opens connections.
// Implemented by Client.
type Dialer interface {
	// Dial connects to the given ws:// or wss:// URL.
	Dial(ctx context.Context, url string) (Conn, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Conn   = (*ClientConn)(nil)
	_ Dialer = (*Client)(nil)
)
