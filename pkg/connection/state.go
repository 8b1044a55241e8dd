package connection

import "github.com/devmirror/devmirror-go/pkg/wire"

// State is the server connection state.
type State uint8

const (
	// StateDisconnected indicates no open socket.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an open socket.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// DeviceState is the device state as reported by the server.
type DeviceState uint8

const (
	// DeviceNA means no status is known (server not connected).
	DeviceNA DeviceState = iota

	// DeviceDisconnected - the server has no device link.
	DeviceDisconnected

	// DeviceConnecting - the server is establishing the device link.
	DeviceConnecting

	// DeviceConnected - the device link is up and ready.
	DeviceConnected
)

// String returns a human-readable device state name.
func (s DeviceState) String() string {
	switch s {
	case DeviceNA:
		return "NA"
	case DeviceDisconnected:
		return "DISCONNECTED"
	case DeviceConnecting:
		return "CONNECTING"
	case DeviceConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// deviceStateFromStatus maps the reported device status. Only
// connected_ready counts as connected.
func deviceStateFromStatus(s wire.DeviceStatus) DeviceState {
	switch s {
	case wire.DeviceStatusConnectedReady:
		return DeviceConnected
	case wire.DeviceStatusConnecting, wire.DeviceStatusConnected:
		return DeviceConnecting
	case wire.DeviceStatusDisconnected:
		return DeviceDisconnected
	default:
		return DeviceNA
	}
}
