package wire

import (
	"bytes"
	"encoding/json"

	"github.com/juju/errors"
)

// ErrProtocol marks a malformed or unexpected message.
const ErrProtocol = errors.NotValid

// Message is a decoded inbound envelope. The complete object is retained in
// Raw so payloads can be decoded into their typed form later.
type Message struct {
	Cmd   string
	ReqID *int64
	Raw   json.RawMessage
}

type envelope struct {
	Cmd   *string `json:"cmd"`
	ReqID *int64  `json:"reqid"`
}

// DecodeMessage parses an inbound frame. The frame must be a JSON object
// with a string "cmd" field; "reqid" may be an integer, null or absent.
func DecodeMessage(data []byte) (*Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errors.NotValidf("message (not a JSON object)")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.NewNotValid(err, "message")
	}
	if env.Cmd == nil || *env.Cmd == "" {
		return nil, errors.NotValidf("message without cmd")
	}

	return &Message{
		Cmd:   *env.Cmd,
		ReqID: env.ReqID,
		Raw:   append(json.RawMessage(nil), data...),
	}, nil
}

// HasReqID reports whether the message echoes a request id.
func (m *Message) HasReqID() bool {
	return m.ReqID != nil
}

// ID returns the echoed request id, or -1 for unsolicited messages.
func (m *Message) ID() int64 {
	if m.ReqID == nil {
		return -1
	}
	return *m.ReqID
}

// Decode unmarshals the message into a payload struct.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return errors.NewNotValid(err, m.Cmd+" payload")
	}
	return nil
}

// EncodeRequest builds an outbound frame: params are flattened into the
// envelope next to cmd and reqid. params may be nil, a struct or a map.
func EncodeRequest(cmd string, reqID int64, params any) ([]byte, error) {
	obj := make(map[string]json.RawMessage)

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Annotatef(err, "encode %s params", cmd)
		}
		if !bytes.Equal(raw, []byte("null")) {
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, errors.NotValidf("%s params (must encode to an object)", cmd)
			}
		}
	}

	cmdRaw, _ := json.Marshal(cmd)
	idRaw, _ := json.Marshal(reqID)
	obj["cmd"] = cmdRaw
	obj["reqid"] = idRaw

	return json.Marshal(obj)
}

// ErrorResponse is the payload of a "error" message. It implements error so
// it can be handed directly to request completions.
type ErrorResponse struct {
	RequestCmd string `json:"request_cmd"`
	Msg        string `json:"msg"`
}

func (e *ErrorResponse) Error() string {
	if e.RequestCmd == "" {
		return "server error: " + e.Msg
	}
	return "server error on " + e.RequestCmd + ": " + e.Msg
}

// DecodeError extracts the error payload from an error message.
func DecodeError(m *Message) (*ErrorResponse, error) {
	if m.Cmd != CmdError {
		return nil, errors.NotValidf("%s is not an error message", m.Cmd)
	}
	var e ErrorResponse
	if err := m.Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}
