package wire

import (
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
)

// DeviceInfo describes the connected device.
type DeviceInfo struct {
	DeviceID          string          `json:"device_id"`
	DisplayName       string          `json:"display_name"`
	MaxTxDataSize     int             `json:"max_tx_data_size"`
	MaxRxDataSize     int             `json:"max_rx_data_size"`
	MaxBitrateBPS     *int            `json:"max_bitrate_bps"`
	ProtocolMajor     int             `json:"protocol_major"`
	ProtocolMinor     int             `json:"protocol_minor"`
	SupportedFeatures map[string]bool `json:"supported_feature_map"`
}

// FirmwareMetadata is the optional human-facing part of a firmware descriptor.
type FirmwareMetadata struct {
	ProjectName string `json:"project_name"`
	Author      string `json:"author"`
	Version     string `json:"version"`
}

// FirmwareDescription identifies the firmware loaded on the device. The
// FirmwareID changes whenever a different program is running, which is what
// forces a reload of the variable registry.
type FirmwareDescription struct {
	FirmwareID string            `json:"firmware_id"`
	Metadata   *FirmwareMetadata `json:"metadata"`
}

// DataloggingStatus reports the datalogger state.
type DataloggingStatus struct {
	State           DataloggerState `json:"datalogger_state"`
	CompletionRatio *float64        `json:"completion_ratio"`
}

// ServerStatus is the typed form of an inform_server_status message.
type ServerStatus struct {
	DeviceStatus    DeviceStatus
	DeviceSessionID string
	DeviceInfo      *DeviceInfo
	LoadedFirmware  *FirmwareDescription
	Datalogging     *DataloggingStatus

	// Warnings lists optional fields that were present but malformed and
	// were therefore defaulted.
	Warnings []string
}

type rawServerStatus struct {
	DeviceStatus      *DeviceStatus   `json:"device_status"`
	DeviceSessionID   *string         `json:"device_session_id"`
	DeviceInfo        json.RawMessage `json:"device_info"`
	LoadedSFD         json.RawMessage `json:"loaded_sfd"`
	DataloggingStatus json.RawMessage `json:"device_datalogging_status"`
}

// DecodeServerStatus validates a status message in one pass. The message
// fails only when device_status is missing or unknown; every optional
// sub-object falls back to nil when absent, null or malformed.
func DecodeServerStatus(m *Message) (*ServerStatus, error) {
	var raw rawServerStatus
	if err := m.Decode(&raw); err != nil {
		return nil, err
	}
	if raw.DeviceStatus == nil {
		return nil, errors.NotValidf("%s without device_status", m.Cmd)
	}
	if !raw.DeviceStatus.IsValid() {
		return nil, errors.NotValidf("device_status %q", *raw.DeviceStatus)
	}

	s := &ServerStatus{DeviceStatus: *raw.DeviceStatus}
	if raw.DeviceSessionID != nil {
		s.DeviceSessionID = *raw.DeviceSessionID
	}

	s.DeviceInfo = decodeOptional[DeviceInfo](s, "device_info", raw.DeviceInfo, func(d *DeviceInfo) error {
		if d.DeviceID == "" {
			return fmt.Errorf("missing device_id")
		}
		return nil
	})
	s.LoadedFirmware = decodeOptional[FirmwareDescription](s, "loaded_sfd", raw.LoadedSFD, func(f *FirmwareDescription) error {
		if f.FirmwareID == "" {
			return fmt.Errorf("missing firmware_id")
		}
		return nil
	})
	s.Datalogging = decodeOptional[DataloggingStatus](s, "device_datalogging_status", raw.DataloggingStatus, func(d *DataloggingStatus) error {
		if !d.State.IsValid() {
			return fmt.Errorf("datalogger_state %q", d.State)
		}
		return nil
	})

	// Device details only make sense while a device is talking to the server.
	if s.DeviceStatus != DeviceStatusConnectedReady {
		s.LoadedFirmware = nil
	}
	return s, nil
}

func decodeOptional[T any](s *ServerStatus, field string, raw json.RawMessage, validate func(*T) error) *T {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.Warnings = append(s.Warnings, fmt.Sprintf("%s: %v", field, err))
		return nil
	}
	if err := validate(&v); err != nil {
		s.Warnings = append(s.Warnings, fmt.Sprintf("%s: %v", field, err))
		return nil
	}
	return &v
}
