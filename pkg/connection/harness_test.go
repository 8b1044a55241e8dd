package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/devmirror/devmirror-go/pkg/metrics"
	"github.com/devmirror/devmirror-go/pkg/store"
	"github.com/devmirror/devmirror-go/pkg/transport"
	"github.com/devmirror/devmirror-go/pkg/wire"
)

const (
	waitTimeout = 2 * time.Second
	tick        = time.Millisecond
)

// Status payload fragments.
const (
	statusNoDevice = `"device_status":"disconnected"`
	statusReady    = `"device_status":"connected_ready","device_session_id":"s1",` +
		`"device_info":{"device_id":"dev1","display_name":"board"},"loaded_sfd":{"firmware_id":"fw1"}`
)

// fakeConn is an in-memory socket. The test plays the server through in
// and out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, transport.ErrConnectionClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrConnectionClosed
	default:
	}
	c.out <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  int
	block bool
	dials int
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fail > 0
	if fail {
		d.fail--
	}
	block := d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, errors.Annotate(transport.ErrDialFailed, ctx.Err().Error())
	}
	if fail {
		return nil, errors.Annotatef(transport.ErrDialFailed, "%s: refused", url)
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type sentRequest struct {
	Cmd            string `json:"cmd"`
	ReqID          int64  `json:"reqid"`
	MaxPerResponse int    `json:"max_per_response"`
	Filter         struct {
		Type []string `json:"type"`
	} `json:"filter"`
	ServerIDs []string            `json:"server_ids"`
	Updates   []wire.WriteRequest `json:"updates"`
}

type harness struct {
	t        *testing.T
	clock    *testclock.Clock
	store    *store.Store
	dialer   *fakeDialer
	registry *prometheus.Registry
	config   Config
	m        *Manager

	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		clock:    testclock.NewClock(time.Time{}),
		store:    store.New(),
		dialer:   newFakeDialer(),
		registry: prometheus.NewRegistry(),
		ch:       make(chan Event, 256),
	}

	cfg := DefaultConfig()
	cfg.URL = "ws://device.test/ws"
	cfg.Dialer = h.dialer
	cfg.Clock = h.clock
	cfg.Metrics = metrics.New(h.registry)
	if mutate != nil {
		mutate(&cfg)
	}
	h.config = cfg

	m, err := NewManager(cfg, h.store)
	require.NoError(t, err)
	h.m = m
	m.OnEvent(func(ev Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
		h.ch <- ev
	})
	t.Cleanup(m.Stop)
	return h
}

// connect starts the manager and answers the first status poll.
func (h *harness) connect(status string) *fakeConn {
	h.t.Helper()
	require.NoError(h.t, h.m.Start())
	conn := h.nextConn()
	h.waitEvent(EventServerConnected)

	req := h.expect(conn, wire.CmdGetServerStatus)
	h.replyStatus(conn, req.ReqID, status)
	h.waitPollScheduled()
	return conn
}

func (h *harness) nextConn() *fakeConn {
	h.t.Helper()
	select {
	case c := <-h.dialer.conns:
		return c
	case <-time.After(waitTimeout):
		h.t.Fatal("no dial")
		return nil
	}
}

// expect reads the next request the client sent and checks its command.
func (h *harness) expect(conn *fakeConn, cmd string) sentRequest {
	h.t.Helper()
	select {
	case data := <-conn.out:
		var req sentRequest
		require.NoError(h.t, json.Unmarshal(data, &req))
		require.Equal(h.t, cmd, req.Cmd, "request %s", data)
		return req
	case <-time.After(waitTimeout):
		h.t.Fatalf("no %s request", cmd)
		return sentRequest{}
	}
}

func (h *harness) expectNothingSent(conn *fakeConn) {
	h.t.Helper()
	select {
	case data := <-conn.out:
		h.t.Fatalf("unexpected request %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) send(conn *fakeConn, format string, args ...any) {
	conn.in <- []byte(fmt.Sprintf(format, args...))
}

func (h *harness) replyStatus(conn *fakeConn, reqID int64, fields string) {
	h.send(conn, `{"cmd":"inform_server_status","reqid":%d,%s}`, reqID, fields)
}

// pollOnce fires the poll timer and answers the resulting status request.
func (h *harness) pollOnce(conn *fakeConn, interval time.Duration, fields string) {
	h.t.Helper()
	h.clock.Advance(interval)
	req := h.expect(conn, wire.CmdGetServerStatus)
	h.replyStatus(conn, req.ReqID, fields)
	h.waitPollScheduled()
}

func (h *harness) waitPollScheduled() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		return h.m.pollTimer != nil && !h.m.polling
	}, waitTimeout, tick)
}

// sync round-trips a request; frames sent before it are processed once it
// completes since the reader handles frames in order.
func (h *harness) sync(conn *fakeConn) {
	h.t.Helper()
	done := make(chan error, 1)
	_, err := h.m.SendAndAwait(wire.CmdSubscribeWatchable, wire.SubscriptionParams{ServerIDs: []string{}}, 0,
		func(_ *wire.Message, err error) { done <- err })
	require.NoError(h.t, err)

	req := h.expect(conn, wire.CmdSubscribeWatchable)
	h.send(conn, `{"cmd":"response_subscribe_watchable","reqid":%d}`, req.ReqID)
	select {
	case err := <-done:
		require.NoError(h.t, err)
	case <-time.After(waitTimeout):
		h.t.Fatal("sync request not settled")
	}
}

func (h *harness) waitEvent(typ EventType) Event {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-h.ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			h.t.Fatalf("no %s event", typ)
			return Event{}
		}
	}
}

func (h *harness) eventTypes() []EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]EventType, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Type
	}
	return out
}

func (h *harness) count(typ EventType) int {
	n := 0
	for _, et := range h.eventTypes() {
		if et == typ {
			n++
		}
	}
	return n
}

func varDef(id, path string) string {
	return fmt.Sprintf(`{"id":%q,"display_path":%q,"datatype":"float32"}`, id, path)
}
