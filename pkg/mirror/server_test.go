package mirror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/devmirror/devmirror-go/pkg/wire"
)

// deviceServer speaks the server side of the protocol over a real
// WebSocket.
type deviceServer struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	status       map[string]any
	content      map[string][]wire.WatchableDefinition
	subscribed   map[string]bool
	unsubscribed []string
	writes       []wire.WriteRequest
	conns        []*serverConn
}

type serverConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *serverConn) send(v any) {
	data, _ := json.Marshal(v)
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, data)
}

func newDeviceServer(t *testing.T) *deviceServer {
	s := &deviceServer{
		t:          t,
		status:     map[string]any{"device_status": "disconnected"},
		content:    make(map[string][]wire.WatchableDefinition),
		subscribed: make(map[string]bool),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &serverConn{ws: ws}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		s.serve(c)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *deviceServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *deviceServer) setStatus(status map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *deviceServer) setContent(typ string, defs ...wire.WatchableDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[typ] = defs
}

func (s *deviceServer) isSubscribed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed[id]
}

func (s *deviceServer) unsubscribedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.unsubscribed...)
}

func (s *deviceServer) recordedWrites() []wire.WriteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.WriteRequest(nil), s.writes...)
}

// push sends a value update on every open socket.
func (s *deviceServer) push(id string, v any) {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.send(map[string]any{
			"cmd":     wire.CmdWatchableUpdate,
			"reqid":   nil,
			"updates": []map[string]any{{"id": id, "v": v}},
		})
	}
}

type clientRequest struct {
	Cmd            string              `json:"cmd"`
	ReqID          int64               `json:"reqid"`
	MaxPerResponse int                 `json:"max_per_response"`
	Filter         wire.ListFilter     `json:"filter"`
	ServerIDs      []string            `json:"server_ids"`
	Updates        []wire.WriteRequest `json:"updates"`
}

func (s *deviceServer) serve(c *serverConn) {
	defer c.ws.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.handle(c, req)
	}
}

func (s *deviceServer) handle(c *serverConn, req clientRequest) {
	reply := map[string]any{"reqid": req.ReqID}

	switch req.Cmd {
	case wire.CmdGetServerStatus:
		s.mu.Lock()
		for k, v := range s.status {
			reply[k] = v
		}
		s.mu.Unlock()
		reply["cmd"] = wire.CmdInformServerStatus
		c.send(reply)

	case wire.CmdGetWatchableCount:
		qty := map[string]int{}
		s.mu.Lock()
		for _, typ := range []string{wire.TypeVar, wire.TypeAlias, wire.TypeRPV} {
			qty[typ] = len(s.content[typ])
		}
		s.mu.Unlock()
		reply["cmd"] = wire.CmdResponseGetWatchableCount
		reply["qty"] = qty
		c.send(reply)

	case wire.CmdGetWatchableList:
		s.sendPages(c, req)

	case wire.CmdSubscribeWatchable:
		s.mu.Lock()
		for _, id := range req.ServerIDs {
			s.subscribed[id] = true
		}
		s.mu.Unlock()
		reply["cmd"] = wire.CmdResponseSubscribeWatchable
		c.send(reply)

	case wire.CmdUnsubscribeWatchable:
		s.mu.Lock()
		for _, id := range req.ServerIDs {
			delete(s.subscribed, id)
			s.unsubscribed = append(s.unsubscribed, id)
		}
		s.mu.Unlock()
		reply["cmd"] = wire.CmdResponseUnsubscribeWatchable
		c.send(reply)

	case wire.CmdWriteWatchable:
		s.mu.Lock()
		s.writes = append(s.writes, req.Updates...)
		s.mu.Unlock()
		reply["cmd"] = wire.CmdResponseWriteWatchable
		reply["count"] = len(req.Updates)
		c.send(reply)

	default:
		reply["cmd"] = wire.CmdError
		reply["request_cmd"] = req.Cmd
		reply["msg"] = "unsupported"
		c.send(reply)
	}
}

// sendPages splits the requested types into pages of at most
// max_per_response definitions.
func (s *deviceServer) sendPages(c *serverConn, req clientRequest) {
	type item struct {
		typ string
		def wire.WatchableDefinition
	}
	var items []item
	s.mu.Lock()
	for _, typ := range req.Filter.Type {
		for _, d := range s.content[typ] {
			items = append(items, item{typ, d})
		}
	}
	s.mu.Unlock()

	max := req.MaxPerResponse
	if max <= 0 {
		max = len(items)
	}
	for start := 0; start < len(items) || start == 0; start += max {
		end := start + max
		if end > len(items) {
			end = len(items)
		}
		content := map[string][]wire.WatchableDefinition{}
		qty := map[string]int{}
		for _, it := range items[start:end] {
			content[it.typ] = append(content[it.typ], it.def)
			qty[it.typ]++
		}
		c.send(map[string]any{
			"cmd":     wire.CmdResponseGetWatchableList,
			"reqid":   req.ReqID,
			"qty":     qty,
			"content": content,
			"done":    end == len(items),
		})
		if len(items) == 0 {
			return
		}
	}
}
