// Package log provides protocol capture for the mirror client.
//
// This package defines the Logger interface and Event types for recording
// every message exchanged with the server, plus connection, device and
// download state changes. It is separate from operational logging (slog):
// protocol capture is a complete machine-readable trace for debugging
// synchronization problems after the fact.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For field captures: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("session.dmcap")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys.
// "devmirror dump" prints them; Reader iterates them with an optional Filter.
package log
