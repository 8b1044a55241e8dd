package log

import "time"

// MaxPayloadSize is the number of payload bytes kept per message event.
const MaxPayloadSize = 4096

// Event is one captured protocol event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the socket the event belongs to (UUID).
	// A new id is assigned on every (re)connect.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// RemoteAddr is the server endpoint.
	RemoteAddr string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures one JSON message.
type MessageEvent struct {
	// Type distinguishes request/response/push.
	Type MessageType `cbor:"1,keyasint"`

	// Cmd is the message command.
	Cmd string `cbor:"2,keyasint"`

	// RequestID is the correlation id (nil for pushed messages).
	RequestID *int64 `cbor:"3,keyasint,omitempty"`

	// Size is the full message size in bytes.
	Size int `cbor:"4,keyasint"`

	// Payload is the raw JSON (truncated to MaxPayloadSize).
	Payload []byte `cbor:"5,keyasint,omitempty"`

	// Truncated indicates if Payload was truncated.
	Truncated bool `cbor:"6,keyasint,omitempty"`
}

// NewMessageEvent builds a message event from a raw frame.
func NewMessageEvent(typ MessageType, cmd string, reqID *int64, data []byte) *MessageEvent {
	ev := &MessageEvent{
		Type:      typ,
		Cmd:       cmd,
		RequestID: reqID,
		Size:      len(data),
	}
	if len(data) > MaxPayloadSize {
		ev.Payload = append([]byte(nil), data[:MaxPayloadSize]...)
		ev.Truncated = true
	} else {
		ev.Payload = append([]byte(nil), data...)
	}
	return ev
}

// MessageType distinguishes request/response/push.
type MessageType uint8

const (
	// MessageTypeRequest indicates a client request.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a server message echoing a request id.
	MessageTypeResponse MessageType = 1
	// MessageTypePush indicates an unsolicited server message.
	MessageTypePush MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypePush:
		return "PUSH"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures server, device, firmware and download transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityServer is the server connection.
	StateEntityServer StateEntity = 0
	// StateEntityDevice is the device behind the server.
	StateEntityDevice StateEntity = 1
	// StateEntityFirmware is the loaded firmware.
	StateEntityFirmware StateEntity = 2
	// StateEntityDownload is a bulk download session.
	StateEntityDownload StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityServer:
		return "SERVER"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityFirmware:
		return "FIRMWARE"
	case StateEntityDownload:
		return "DOWNLOAD"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures protocol errors.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Context describes what was being processed.
	Context string `cbor:"2,keyasint,omitempty"`
}
