package wire

import (
	"encoding/json"

	"github.com/juju/errors"
)

// Counts maps a watchable type name to a quantity.
type Counts map[string]int

// CountResponse is the payload of CmdResponseGetWatchableCount.
type CountResponse struct {
	Qty Counts `json:"qty"`
}

// EnumDefinition names the integer values of an enumerated datatype.
type EnumDefinition struct {
	Name   string           `json:"name"`
	Values map[string]int64 `json:"values"`
}

// Lookup returns the name of an enum value.
func (e *EnumDefinition) Lookup(value int64) (string, bool) {
	if e == nil {
		return "", false
	}
	for name, v := range e.Values {
		if v == value {
			return name, true
		}
	}
	return "", false
}

// WatchableDefinition describes one watchable in a list page.
type WatchableDefinition struct {
	ServerID    string          `json:"id"`
	DisplayPath string          `json:"display_path"`
	DataType    DataType        `json:"datatype"`
	Enum        *EnumDefinition `json:"enum,omitempty"`
}

// ListResponse is one page of CmdResponseGetWatchableList.
type ListResponse struct {
	Qty     Counts                           `json:"qty"`
	Content map[string][]WatchableDefinition `json:"content"`
	Done    bool                             `json:"done"`
}

// ValueUpdate is one (server id, value) pair of a watchable update.
type ValueUpdate struct {
	ServerID string `json:"id"`
	Value    any    `json:"v"`
}

// UpdateMessage is the payload of CmdWatchableUpdate.
type UpdateMessage struct {
	Updates []ValueUpdate `json:"updates"`
}

// WriteResponse is the payload of CmdResponseWriteWatchable.
type WriteResponse struct {
	Count int `json:"count"`
}

// DecodeCountResponse decodes and validates a count response.
func DecodeCountResponse(m *Message) (*CountResponse, error) {
	var r CountResponse
	if err := m.Decode(&r); err != nil {
		return nil, err
	}
	if r.Qty == nil {
		return nil, errors.NotValidf("%s without qty", m.Cmd)
	}
	for name, n := range r.Qty {
		if n < 0 {
			return nil, errors.NotValidf("negative %s count %d", name, n)
		}
	}
	return &r, nil
}

// DecodeListResponse decodes and validates one page of a list response.
// Each definition must carry a server id, a display path and a known
// datatype.
func DecodeListResponse(m *Message) (*ListResponse, error) {
	var r ListResponse
	if err := m.Decode(&r); err != nil {
		return nil, err
	}
	for typ, defs := range r.Content {
		for i, d := range defs {
			if d.ServerID == "" {
				return nil, errors.NotValidf("%s[%d] without id", typ, i)
			}
			if d.DisplayPath == "" {
				return nil, errors.NotValidf("%s[%d] (%s) without display_path", typ, i, d.ServerID)
			}
			if !d.DataType.IsValid() {
				return nil, errors.NotValidf("%s[%d] (%s) datatype %q", typ, i, d.ServerID, d.DataType)
			}
		}
	}
	return &r, nil
}

// DecodeUpdateMessage decodes a watchable update. Entries without an id are
// rejected as a whole message.
func DecodeUpdateMessage(m *Message) (*UpdateMessage, error) {
	var raw struct {
		Updates []json.RawMessage `json:"updates"`
	}
	if err := m.Decode(&raw); err != nil {
		return nil, err
	}
	if raw.Updates == nil {
		return nil, errors.NotValidf("%s without updates", m.Cmd)
	}

	out := &UpdateMessage{Updates: make([]ValueUpdate, 0, len(raw.Updates))}
	for i, u := range raw.Updates {
		var vu ValueUpdate
		if err := json.Unmarshal(u, &vu); err != nil {
			return nil, errors.NewNotValid(err, "update")
		}
		if vu.ServerID == "" {
			return nil, errors.NotValidf("update[%d] without id", i)
		}
		out.Updates = append(out.Updates, vu)
	}
	return out, nil
}
