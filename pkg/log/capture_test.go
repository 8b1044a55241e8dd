package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func int64Ptr(v int64) *int64 { return &v }

func createTestCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.dmcap")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create capture: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestEncodeDecodeMessageEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	in := Event{
		Timestamp:    ts,
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Category:     CategoryMessage,
		RemoteAddr:   "127.0.0.1:8765",
		Message:      NewMessageEvent(MessageTypeRequest, "get_watchable_count", int64Ptr(3), []byte(`{"cmd":"get_watchable_count","reqid":3}`)),
	}

	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if !out.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, ts)
	}
	if out.Message == nil {
		t.Fatal("Message lost")
	}
	if out.Message.Cmd != "get_watchable_count" || *out.Message.RequestID != 3 {
		t.Errorf("Message = %+v", out.Message)
	}
	if string(out.Message.Payload) != `{"cmd":"get_watchable_count","reqid":3}` {
		t.Errorf("Payload = %s", out.Message.Payload)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error")
	}
}

func TestNewMessageEventTruncates(t *testing.T) {
	big := bytes.Repeat([]byte("a"), MaxPayloadSize+10)
	ev := NewMessageEvent(MessageTypePush, "watchable_update", nil, big)

	if ev.Size != MaxPayloadSize+10 {
		t.Errorf("Size = %d", ev.Size)
	}
	if len(ev.Payload) != MaxPayloadSize || !ev.Truncated {
		t.Errorf("payload len %d truncated %v", len(ev.Payload), ev.Truncated)
	}

	small := NewMessageEvent(MessageTypePush, "watchable_update", nil, []byte("{}"))
	if small.Truncated {
		t.Error("small payload marked truncated")
	}
}

func TestNewMessageEventCopiesPayload(t *testing.T) {
	data := []byte(`{"cmd":"x"}`)
	ev := NewMessageEvent(MessageTypePush, "x", nil, data)
	data[2] = 'X'
	if string(ev.Payload) != `{"cmd":"x"}` {
		t.Errorf("payload aliased caller buffer: %s", ev.Payload)
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	events := []Event{
		{Timestamp: time.Now(), ConnectionID: "conn-1", Direction: DirectionOut, Category: CategoryMessage},
		{Timestamp: time.Now(), ConnectionID: "conn-2", Direction: DirectionIn, Category: CategoryMessage},
		{Timestamp: time.Now(), ConnectionID: "conn-3", Direction: DirectionIn, Category: CategoryState},
	}
	path := createTestCapture(t, events)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	read, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(read) != 3 {
		t.Fatalf("got %d events, want 3", len(read))
	}
	if read[0].ConnectionID != "conn-1" || read[2].ConnectionID != "conn-3" {
		t.Errorf("order not preserved: %q .. %q", read[0].ConnectionID, read[2].ConnectionID)
	}
}

func TestReaderEmptyFile(t *testing.T) {
	path := createTestCapture(t, nil)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next = %v, want io.EOF", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.dmcap")); err == nil {
		t.Error("expected error")
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "a", Direction: DirectionOut, Category: CategoryMessage,
			Message: NewMessageEvent(MessageTypeRequest, "get_watchable_list", int64Ptr(1), nil)},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Direction: DirectionIn, Category: CategoryMessage,
			Message: NewMessageEvent(MessageTypeResponse, "response_get_watchable_list", int64Ptr(1), nil)},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "b", Direction: DirectionIn, Category: CategoryMessage,
			Message: NewMessageEvent(MessageTypePush, "watchable_update", nil, nil)},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "b", Direction: DirectionIn, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityDevice, NewState: "CONNECTED"}},
	}
	path := createTestCapture(t, events)

	in := DirectionIn
	state := CategoryState
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   []string // cmd or entity per matching event
	}{
		{"All", Filter{}, []string{"get_watchable_list", "response_get_watchable_list", "watchable_update", "DEVICE"}},
		{"Connection", Filter{ConnectionID: "b"}, []string{"watchable_update", "DEVICE"}},
		{"Direction", Filter{Direction: &in}, []string{"response_get_watchable_list", "watchable_update", "DEVICE"}},
		{"Category", Filter{Category: &state}, []string{"DEVICE"}},
		{"Cmd", Filter{Cmd: "watchable_update"}, []string{"watchable_update"}},
		{"RequestID", Filter{RequestID: int64Ptr(1)}, []string{"get_watchable_list", "response_get_watchable_list"}},
		{"TimeRange", Filter{TimeStart: &start, TimeEnd: &end}, []string{"response_get_watchable_list", "watchable_update"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader: %v", err)
			}
			defer reader.Close()

			got, err := reader.ReadAll()
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			var names []string
			for _, e := range got {
				switch {
				case e.Message != nil:
					names = append(names, e.Message.Cmd)
				case e.StateChange != nil:
					names = append(names, e.StateChange.Entity.String())
				}
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", names, tt.want)
			}
		})
	}
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestStreamLoggerAndReader(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewStreamLogger(nopCloser{buf})
	logger.Log(Event{ConnectionID: "x", Category: CategoryError, Error: &ErrorEventData{Message: "bad frame"}})
	logger.Close()
	logger.Log(Event{ConnectionID: "ignored"})

	events, err := NewStreamReader(buf, Filter{}).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 1 || events[0].Error == nil || events[0].Error.Message != "bad frame" {
		t.Errorf("events = %+v", events)
	}
	if logger.Dropped() != 0 {
		t.Errorf("Dropped = %d", logger.Dropped())
	}
}

func TestFileLoggerCloseTwice(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "c.dmcap"))
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

type recordingLogger struct {
	events []Event
}

func (r *recordingLogger) Log(event Event) {
	r.events = append(r.events, event)
}

func TestMultiLoggerCallsAll(t *testing.T) {
	r1, r2 := &recordingLogger{}, &recordingLogger{}
	multi := NewMultiLogger(r1, nil, r2, NoopLogger{})

	multi.Log(Event{ConnectionID: "conn-123"})

	for i, r := range []*recordingLogger{r1, r2} {
		if len(r.events) != 1 || r.events[0].ConnectionID != "conn-123" {
			t.Errorf("logger %d: events = %+v", i, r.events)
		}
	}
}

func TestNoopLoggerIsZeroValue(t *testing.T) {
	var logger NoopLogger
	logger.Log(Event{Message: &MessageEvent{}})
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	adapter.IncludePayload = true

	adapter.Log(Event{
		ConnectionID: "conn-123",
		Direction:    DirectionIn,
		Category:     CategoryMessage,
		Message:      NewMessageEvent(MessageTypeResponse, "response_get_watchable_count", int64Ptr(7), []byte(`{"qty":{}}`)),
	})
	adapter.Log(Event{
		ConnectionID: "conn-123",
		Category:     CategoryState,
		StateChange:  &StateChangeEvent{Entity: StateEntityServer, OldState: "CONNECTING", NewState: "CONNECTED"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d records", len(lines))
	}

	var msg map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &msg); err != nil {
		t.Fatal(err)
	}
	if msg["cmd"] != "response_get_watchable_count" || msg["reqid"] != float64(7) || msg["msg_type"] != "RESPONSE" {
		t.Errorf("message record = %v", msg)
	}
	if msg["payload"] != `{"qty":{}}` {
		t.Errorf("payload = %v", msg["payload"])
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &state); err != nil {
		t.Fatal(err)
	}
	if state["entity"] != "SERVER" || state["new_state"] != "CONNECTED" {
		t.Errorf("state record = %v", state)
	}
}

func TestEnumStrings(t *testing.T) {
	if DirectionOut.String() != "OUT" || Direction(9).String() != "UNKNOWN" {
		t.Error("Direction strings")
	}
	if CategoryError.String() != "ERROR" {
		t.Error("Category strings")
	}
	if MessageTypePush.String() != "PUSH" {
		t.Error("MessageType strings")
	}
	if StateEntityDownload.String() != "DOWNLOAD" {
		t.Error("StateEntity strings")
	}
}
