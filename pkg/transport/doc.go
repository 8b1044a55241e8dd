// Package transport provides the message transport used by the mirror client.
//
// The transport layer handles:
//   - WebSocket connections to the server endpoint
//   - Whole-message reads and writes (one JSON document per frame)
//   - Keep-alive ping/pong for connection liveness
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      JSON Messages             │
//	├────────────────────────────────┤
//	│   WebSocket text frames        │
//	├────────────────────────────────┤
//	│   HTTP/1.1 upgrade (ws / wss)  │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Keep-Alive
//
// Liveness is monitored with WebSocket ping control frames. Every received
// pong pushes the read deadline forward by DetectionDelay. With the defaults:
//   - Ping interval: 10 seconds
//   - Pong timeout: 5 seconds
//   - Max missed pongs: 3
//   - Maximum detection delay: 35 seconds
package transport
