// Package connection implements the session engine that keeps a store.Store
// in sync with the server.
//
// A Manager owns one WebSocket to the server and handles:
//   - Request correlation: every request carries a strictly increasing
//     reqid; awaited requests are settled exactly once, by the response,
//     by an error message or by their deadline
//   - Health polling: get_server_status is polled sequentially, faster
//     while the datalogger is acquiring
//   - Edge detection: device and firmware transitions are raised as events
//     once, never per poll
//   - Bulk downloads: Reload runs count then paged list requests, tracked
//     by a download.Session keyed by the list request id
//   - Reconnection: after a close exactly one reconnect timer is pending
//
// # Threading
//
// All state is guarded by one mutex. Frames are processed sequentially by
// one reader goroutine per socket and timers come from an injected
// clock.Clock. Events are queued under the lock and delivered in order,
// outside the lock, by a single goroutine at a time. Handlers may call back
// into the Manager but must not block waiting for a response: the reader
// goroutine may be the one delivering the event.
//
// # Reconnection Strategy
//
// By default the reconnect delay is fixed (Config.ReconnectDelay). Setting
// Config.Backoff switches to exponential backoff with jitter:
//
//	actual_delay = base_delay + random(0, base_delay * jitter)
//
// The backoff resets once a socket opens.
package connection
