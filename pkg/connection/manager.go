package connection

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/download"
	"github.com/devmirror/devmirror-go/pkg/log"
	"github.com/devmirror/devmirror-go/pkg/metrics"
	"github.com/devmirror/devmirror-go/pkg/store"
	"github.com/devmirror/devmirror-go/pkg/transport"
	"github.com/devmirror/devmirror-go/pkg/wire"
)

// Connection errors.
const (
	ErrNotConnected    = errors.ConstError("not connected")
	ErrConnectionLost  = errors.ConstError("connection lost")
	ErrRequestTimeout  = errors.Timeout
	ErrAlreadyStarted  = errors.ConstError("already started")
	ErrUnexpectedReply = errors.ConstError("unexpected reply")
)

// Manager keeps a store.Store in sync with the server over one socket.
type Manager struct {
	config  Config
	store   *store.Store
	clock   clock.Clock
	dialer  transport.Dialer
	logger  *slog.Logger
	plog    log.Logger
	metrics *metrics.Metrics
	delays  DelayPolicy

	mu sync.Mutex

	started   bool
	reconnect bool
	state     State

	// gen identifies the current socket; goroutines of older sockets
	// compare it and drop their results.
	gen                uint64
	conn               transport.Conn
	connID             string
	cancelDial         context.CancelFunc
	disconnectNotified bool

	deviceState     DeviceState
	deviceSessionID string
	deviceInfo      *wire.DeviceInfo
	firmware        *wire.FirmwareDescription
	datalogging     *wire.DataloggingStatus

	nextID   int64
	pending  map[int64]*pendingRequest
	sessions map[download.Kind]*download.Session

	connectTimer   clock.Timer
	reconnectTimer clock.Timer
	pollTimer      clock.Timer
	polling        bool

	handlers    []EventHandler
	events      []Event
	dispatching bool
	idle        *sync.Cond
}

// NewManager creates a Manager for st. It registers a store handler so that
// clearing a category orphans the download in flight for it.
func NewManager(config Config, st *store.Store) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if st == nil {
		return nil, errors.NotValidf("nil store")
	}

	m := &Manager{
		config:   config,
		store:    st,
		clock:    config.Clock,
		dialer:   config.Dialer,
		logger:   config.Logger,
		plog:     config.ProtocolLogger,
		metrics:  config.Metrics,
		pending:  make(map[int64]*pendingRequest),
		sessions: make(map[download.Kind]*download.Session),
	}
	m.idle = sync.NewCond(&m.mu)
	if m.clock == nil {
		m.clock = clock.WallClock
	}
	if m.dialer == nil {
		m.dialer = transport.NewClient(transport.DefaultClientConfig())
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m.plog == nil {
		m.plog = log.NoopLogger{}
	}
	if config.Backoff != nil {
		m.delays = NewBackoffWithConfig(*config.Backoff)
	} else {
		m.delays = FixedDelay(config.ReconnectDelay)
	}

	st.OnEvent(m.onStoreEvent)
	return m, nil
}

// Store returns the store the Manager populates.
func (m *Manager) Store() *store.Store {
	return m.store
}

// OnEvent registers a handler. Handlers run in registration order.
func (m *Manager) OnEvent(handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handlers := make([]EventHandler, len(m.handlers), len(m.handlers)+1)
	copy(handlers, m.handlers)
	m.handlers = append(handlers, handler)
}

// Start opens the socket. Progress is reported through events; Start
// itself only fails when already started.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.reconnect = m.config.AutoReconnect
	m.connectLocked()
	m.mu.Unlock()

	m.dispatch()
	return nil
}

// Stop disables reconnection and closes the socket. When connected,
// EventServerDisconnected is delivered while the socket is still open so
// handlers can unwind. Stop must not be called from an event handler.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.started = false
	m.reconnect = false
	m.stopTimerLocked(&m.reconnectTimer)
	if m.state == StateConnected && !m.disconnectNotified {
		m.disconnectNotified = true
		m.queueLocked(Event{Type: EventServerDisconnected})
	}
	m.mu.Unlock()

	m.drain()

	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	pending, conn := m.teardownLocked("stopped")
	m.mu.Unlock()

	m.rejectAll(pending, errors.Annotate(ErrConnectionLost, "manager stopped"))
	m.dispatch()
	if conn != nil {
		conn.Close()
	}
	m.logger.Info("connection stopped")
}

// State returns the server connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DeviceState returns the last reported device state.
func (m *Manager) DeviceState() DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceState
}

// DeviceInfo returns the info of the connected device, or nil.
func (m *Manager) DeviceInfo() *wire.DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceInfo
}

// LoadedFirmware returns the loaded firmware descriptor, or nil.
func (m *Manager) LoadedFirmware() *wire.FirmwareDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firmware
}

// Datalogging returns the last reported datalogger status, or nil.
func (m *Manager) Datalogging() *wire.DataloggingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.datalogging
}

// ConnectionID returns the id of the current socket ("" when closed).
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// connectLocked starts a connection attempt for a new socket generation.
func (m *Manager) connectLocked() {
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting, "")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel

	var t clock.Timer
	t = m.clock.AfterFunc(m.config.ConnectTimeout, func() { m.connectTimedOut(t, gen) })
	m.connectTimer = t

	m.logger.Info("connecting", "url", m.config.URL)
	go m.dial(ctx, gen)
}

func (m *Manager) dial(ctx context.Context, gen uint64) {
	conn, err := m.dialer.Dial(ctx, m.config.URL)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("connect failed", "url", m.config.URL, "error", err)
		m.handleClosed(gen, err)
		return
	}

	m.stopTimerLocked(&m.connectTimer)
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.conn = conn
	m.connID = uuid.New().String()
	m.disconnectNotified = false
	m.delays.Reset()
	m.setStateLocked(StateConnected, "")
	m.queueLocked(Event{Type: EventServerConnected})
	connID := m.connID
	m.mu.Unlock()

	m.metrics.SetServerConnected(true)
	m.logger.Info("connected", "url", m.config.URL, "conn_id", connID)

	go m.readLoop(conn, gen, connID)
	m.dispatch()
	m.poll(gen)
}

func (m *Manager) connectTimedOut(t clock.Timer, gen uint64) {
	m.mu.Lock()
	if m.connectTimer != t {
		m.mu.Unlock()
		return
	}
	m.connectTimer = nil
	m.mu.Unlock()

	m.logger.Warn("connect timed out", "url", m.config.URL, "timeout", m.config.ConnectTimeout)
	m.handleClosed(gen, errors.Timeoutf("connect to %s", m.config.URL))
}

func (m *Manager) readLoop(conn transport.Conn, gen uint64, connID string) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		m.handleFrame(gen, connID, data)
	}
}

// handleClosed handles the end of socket generation gen, whether it failed
// to open or closed later. Duplicate reports are ignored.
func (m *Manager) handleClosed(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.state == StateConnected && !m.disconnectNotified {
		m.disconnectNotified = true
		m.queueLocked(Event{Type: EventServerDisconnected})
	}
	pending, conn := m.teardownLocked(cause.Error())
	if m.reconnect {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
		m.logger.Warn("server connection lost", "error", cause)
	}
	m.rejectAll(pending, errors.Annotatef(ErrConnectionLost, "%v", cause))
	m.dispatch()
}

// teardownLocked resets everything tied to the socket and returns what must
// be released outside the lock.
func (m *Manager) teardownLocked(reason string) ([]*pendingRequest, transport.Conn) {
	m.stopTimerLocked(&m.connectTimer)
	m.stopTimerLocked(&m.pollTimer)
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.polling = false

	for kind, s := range m.sessions {
		s.Cancel()
		delete(m.sessions, kind)
		m.metrics.DownloadFinished(kind.String(), metrics.OutcomeCanceled)
	}

	pending := make([]*pendingRequest, 0, len(m.pending))
	for id, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, id)
		pending = append(pending, p)
	}
	m.metrics.SetPending(0)
	m.metrics.SetServerConnected(false)

	m.applyDeviceLocked(DeviceNA, nil, nil)
	m.datalogging = nil
	m.deviceSessionID = ""

	conn := m.conn
	m.conn = nil
	m.connID = ""
	m.setStateLocked(StateDisconnected, reason)
	return pending, conn
}

func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil {
		return
	}
	delay := m.delays.Next()

	var t clock.Timer
	t = m.clock.AfterFunc(delay, func() { m.reconnectFired(t) })
	m.reconnectTimer = t

	m.metrics.ReconnectScheduled()
	m.logger.Debug("reconnect scheduled", "delay", delay)
}

func (m *Manager) reconnectFired(t clock.Timer) {
	m.mu.Lock()
	if m.reconnectTimer != t {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	if !m.reconnect || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.connectLocked()
	m.mu.Unlock()

	m.dispatch()
}

func (m *Manager) stopTimerLocked(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) setStateLocked(s State, reason string) {
	if m.state == s {
		return
	}
	old := m.state
	m.state = s
	m.captureStateLocked(log.StateEntityServer, old.String(), s.String(), reason)
}

// applyDeviceLocked records a new device state and firmware and queues the
// resulting edges: unload edges first, then connect edges.
func (m *Manager) applyDeviceLocked(state DeviceState, info *wire.DeviceInfo, fw *wire.FirmwareDescription) {
	oldState, oldFw := m.deviceState, m.firmware

	fwChanged := oldFw != nil && (fw == nil || fw.FirmwareID != oldFw.FirmwareID)
	if fwChanged {
		m.queueLocked(Event{Type: EventFirmwareUnloaded, Firmware: oldFw})
		m.captureStateLocked(log.StateEntityFirmware, oldFw.FirmwareID, "", "")
	}
	if oldState == DeviceConnected && state != DeviceConnected {
		m.queueLocked(Event{Type: EventDeviceDisconnected})
	}
	if oldState != state {
		m.captureStateLocked(log.StateEntityDevice, oldState.String(), state.String(), "")
	}
	if state == DeviceConnected && oldState != DeviceConnected {
		m.queueLocked(Event{Type: EventDeviceConnected, DeviceInfo: info})
	}
	if fw != nil && (oldFw == nil || fwChanged) {
		m.queueLocked(Event{Type: EventFirmwareLoaded, Firmware: fw})
		m.captureStateLocked(log.StateEntityFirmware, "", fw.FirmwareID, "")
	}

	m.deviceState = state
	m.firmware = fw
	if state == DeviceConnected {
		m.deviceInfo = info
	} else {
		m.deviceInfo = nil
	}
}

func (m *Manager) queueLocked(events ...Event) {
	m.events = append(m.events, events...)
}

// dispatch delivers queued events in order. Only one goroutine delivers at a
// time; events queued meanwhile, including by handlers, are picked up by it.
func (m *Manager) dispatch() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for len(m.events) > 0 {
		ev := m.events[0]
		m.events = m.events[1:]
		handlers := m.handlers
		m.mu.Unlock()

		m.logger.Debug("event", "type", ev.Type.String())
		for _, h := range handlers {
			h(ev)
		}

		m.mu.Lock()
	}
	m.events = nil
	m.dispatching = false
	m.idle.Broadcast()
	m.mu.Unlock()
}

// drain dispatches and then waits until no goroutine is delivering events.
// It must not be called from an event handler.
func (m *Manager) drain() {
	m.dispatch()

	m.mu.Lock()
	for m.dispatching || len(m.events) > 0 {
		m.idle.Wait()
	}
	m.mu.Unlock()
}

// onStoreEvent orphans the download of a cleared category: the session is
// canceled and untracked so its remaining pages are discarded.
func (m *Manager) onStoreEvent(ev store.Event) {
	if ev.Type != store.EventCleared {
		return
	}
	kind := download.KindOf(ev.Category)

	m.mu.Lock()
	s := m.sessions[kind]
	if s != nil {
		s.Cancel()
		delete(m.sessions, kind)
	}
	m.mu.Unlock()

	if s != nil {
		m.metrics.DownloadFinished(kind.String(), metrics.OutcomeCanceled)
		m.logger.Debug("download orphaned by clear", "kind", kind.String(), "category", ev.Category.String(), "reqid", s.RequestID())
	}
}

func (m *Manager) captureStateLocked(entity log.StateEntity, oldState, newState, reason string) {
	m.plog.Log(log.Event{
		Timestamp:    m.clock.Now(),
		ConnectionID: m.connID,
		Direction:    log.DirectionIn,
		Category:     log.CategoryState,
		RemoteAddr:   m.config.URL,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (m *Manager) captureMessage(connID string, dir log.Direction, typ log.MessageType, cmd string, reqID *int64, data []byte) {
	m.plog.Log(log.Event{
		Timestamp:    m.clock.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Category:     log.CategoryMessage,
		RemoteAddr:   m.config.URL,
		Message:      log.NewMessageEvent(typ, cmd, reqID, data),
	})
}

func (m *Manager) protocolError(connID string, err error, where string) {
	m.metrics.ProtocolError()
	m.logger.Warn("protocol error", "context", where, "error", err)
	m.plog.Log(log.Event{
		Timestamp:    m.clock.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Category:     log.CategoryError,
		RemoteAddr:   m.config.URL,
		Error:        &log.ErrorEventData{Message: err.Error(), Context: where},
	})
}
