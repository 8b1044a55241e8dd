package wire

import (
	"math"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// DataType is the embedded type of a watchable.
type DataType string

const (
	DataTypeSint8   DataType = "sint8"
	DataTypeSint16  DataType = "sint16"
	DataTypeSint32  DataType = "sint32"
	DataTypeSint64  DataType = "sint64"
	DataTypeUint8   DataType = "uint8"
	DataTypeUint16  DataType = "uint16"
	DataTypeUint32  DataType = "uint32"
	DataTypeUint64  DataType = "uint64"
	DataTypeFloat32 DataType = "float32"
	DataTypeFloat64 DataType = "float64"
	DataTypeBoolean DataType = "boolean"
)

var intRanges = map[DataType]struct{ min, max float64 }{
	DataTypeSint8:  {math.MinInt8, math.MaxInt8},
	DataTypeSint16: {math.MinInt16, math.MaxInt16},
	DataTypeSint32: {math.MinInt32, math.MaxInt32},
	DataTypeSint64: {math.MinInt64, math.MaxInt64},
	DataTypeUint8:  {0, math.MaxUint8},
	DataTypeUint16: {0, math.MaxUint16},
	DataTypeUint32: {0, math.MaxUint32},
	DataTypeUint64: {0, math.MaxUint64},
}

// IsValid reports whether the datatype is known.
func (d DataType) IsValid() bool {
	switch d {
	case DataTypeFloat32, DataTypeFloat64, DataTypeBoolean:
		return true
	}
	_, ok := intRanges[d]
	return ok
}

// IsInteger reports whether the datatype is a signed or unsigned integer.
func (d DataType) IsInteger() bool {
	_, ok := intRanges[d]
	return ok
}

// ParseValue converts user input into a JSON-ready value of this datatype.
// Integers accept decimal or 0x-prefixed hex; booleans accept true/false/1/0.
func (d DataType) ParseValue(s string) (any, error) {
	s = strings.TrimSpace(s)
	switch {
	case d == DataTypeBoolean:
		switch strings.ToLower(s) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, errors.NotValidf("boolean %q", s)

	case d == DataTypeFloat32 || d == DataTypeFloat64:
		bits := 64
		if d == DataTypeFloat32 {
			bits = 32
		}
		f, err := strconv.ParseFloat(s, bits)
		if err != nil {
			return nil, errors.NewNotValid(err, string(d))
		}
		return f, nil

	case d.IsInteger():
		r := intRanges[d]
		if r.min < 0 {
			v, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, errors.NewNotValid(err, string(d))
			}
			if float64(v) < r.min || float64(v) > r.max {
				return nil, errors.NotValidf("%d out of range for %s", v, d)
			}
			return v, nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, errors.NewNotValid(err, string(d))
		}
		if float64(v) > r.max {
			return nil, errors.NotValidf("%d out of range for %s", v, d)
		}
		return v, nil
	}
	return nil, errors.NotSupportedf("datatype %q", d)
}

// DeviceStatus is the device connection status reported by the server.
type DeviceStatus string

const (
	DeviceStatusUnknown        DeviceStatus = "unknown"
	DeviceStatusDisconnected   DeviceStatus = "disconnected"
	DeviceStatusConnecting     DeviceStatus = "connecting"
	DeviceStatusConnected      DeviceStatus = "connected"
	DeviceStatusConnectedReady DeviceStatus = "connected_ready"
)

// IsValid reports whether the status is known.
func (s DeviceStatus) IsValid() bool {
	switch s {
	case DeviceStatusUnknown, DeviceStatusDisconnected, DeviceStatusConnecting,
		DeviceStatusConnected, DeviceStatusConnectedReady:
		return true
	}
	return false
}

// DataloggerState is the state of the device datalogger.
type DataloggerState string

const (
	DataloggerUnavailable       DataloggerState = "unavailable"
	DataloggerStandby           DataloggerState = "standby"
	DataloggerWaitingForTrigger DataloggerState = "waiting_for_trigger"
	DataloggerAcquiring         DataloggerState = "acquiring"
	DataloggerDataReady         DataloggerState = "data_ready"
	DataloggerError             DataloggerState = "error"
)

// IsValid reports whether the state is known.
func (s DataloggerState) IsValid() bool {
	switch s {
	case DataloggerUnavailable, DataloggerStandby, DataloggerWaitingForTrigger,
		DataloggerAcquiring, DataloggerDataReady, DataloggerError:
		return true
	}
	return false
}

// InProgress reports whether an acquisition is running on the device.
func (s DataloggerState) InProgress() bool {
	return s == DataloggerWaitingForTrigger || s == DataloggerAcquiring
}
