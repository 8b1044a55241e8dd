package connection

import (
	"github.com/devmirror/devmirror-go/pkg/download"
	"github.com/devmirror/devmirror-go/pkg/wire"
)

// EventType identifies a Manager notification.
type EventType uint8

const (
	// EventServerConnected - the socket opened.
	EventServerConnected EventType = iota

	// EventServerDisconnected - the socket closed, or Stop was called
	// while connected. Always delivered before the device and firmware
	// edges caused by the same close.
	EventServerDisconnected

	// EventDeviceConnected - the device became ready.
	EventDeviceConnected

	// EventDeviceDisconnected - the device left the ready state.
	EventDeviceDisconnected

	// EventFirmwareLoaded - a firmware is loaded, or its id changed.
	EventFirmwareLoaded

	// EventFirmwareUnloaded - the previously loaded firmware is gone.
	EventFirmwareUnloaded

	// EventDownloadComplete - a bulk download reached its expected counts.
	EventDownloadComplete

	// EventDownloadFailed - a bulk download was abandoned.
	EventDownloadFailed
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventServerConnected:
		return "SERVER_CONNECTED"
	case EventServerDisconnected:
		return "SERVER_DISCONNECTED"
	case EventDeviceConnected:
		return "DEVICE_CONNECTED"
	case EventDeviceDisconnected:
		return "DEVICE_DISCONNECTED"
	case EventFirmwareLoaded:
		return "FIRMWARE_LOADED"
	case EventFirmwareUnloaded:
		return "FIRMWARE_UNLOADED"
	case EventDownloadComplete:
		return "DOWNLOAD_COMPLETE"
	case EventDownloadFailed:
		return "DOWNLOAD_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Event is a Manager notification.
type Event struct {
	Type EventType

	// DeviceInfo is set for EventDeviceConnected.
	DeviceInfo *wire.DeviceInfo

	// Firmware is the loaded firmware (EventFirmwareLoaded) or the one
	// that went away (EventFirmwareUnloaded).
	Firmware *wire.FirmwareDescription

	// Kind is set for download events.
	Kind download.Kind

	// Err is the failure cause of EventDownloadFailed.
	Err error
}

// EventHandler handles Manager events.
type EventHandler func(Event)
