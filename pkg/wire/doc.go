// Package wire defines the JSON wire format spoken with the device server.
//
// Every message is a single JSON object carried by one WebSocket frame.
//
// # Envelope
//
// Client to server:
//
//	{"cmd": "get_watchable_count", "reqid": 4, ...params}
//
// Server to client:
//
//	{"cmd": "response_get_watchable_count", "reqid": 4, ...payload}
//	{"cmd": "watchable_update", "reqid": null, "updates": [...]}
//	{"cmd": "error", "reqid": 4, "request_cmd": "get_watchable_count", "msg": "..."}
//
// Responses echo the reqid of the request they answer. Unsolicited messages
// (value updates, pushed status) carry a null reqid.
//
// # Payload decoding
//
// Message keeps the raw object and decodes typed payloads on demand. Server
// status decoding is a single validation pass: the structural fields must be
// valid, while optional sub-objects fall back to nil and are reported as
// warnings instead of failing the whole message.
package wire
