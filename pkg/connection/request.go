package connection

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/log"
	"github.com/devmirror/devmirror-go/pkg/wire"
)

// InvalidRequestID is returned by Send when nothing was sent.
const InvalidRequestID int64 = -1

// Completion receives the outcome of an awaited request: the response
// message, or an error (*wire.ErrorResponse, ErrRequestTimeout or
// ErrConnectionLost). It is called exactly once, outside the Manager lock.
type Completion func(msg *wire.Message, err error)

type pendingRequest struct {
	cmd   string
	sent  time.Time
	timer clock.Timer
	done  Completion
}

// PendingRequests returns the number of requests awaiting settlement.
func (m *Manager) PendingRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Send transmits cmd with params and the next request id. It returns
// InvalidRequestID and ErrNotConnected when the socket is not open.
func (m *Manager) Send(cmd string, params any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(cmd, params)
}

// sendLocked writes under the lock, which keeps writes to the socket
// serialized and in request id order.
func (m *Manager) sendLocked(cmd string, params any) (int64, error) {
	if m.conn == nil || m.state != StateConnected {
		return InvalidRequestID, errors.Annotatef(ErrNotConnected, "send %s", cmd)
	}

	id := m.nextID
	data, err := wire.EncodeRequest(cmd, id, params)
	if err != nil {
		return InvalidRequestID, errors.Trace(err)
	}
	m.nextID++

	if err := m.conn.WriteMessage(data); err != nil {
		// The reader notices the broken socket and runs the close path.
		return InvalidRequestID, errors.Annotatef(ErrNotConnected, "send %s: %v", cmd, err)
	}

	m.captureMessage(m.connID, log.DirectionOut, log.MessageTypeRequest, cmd, &id, data)
	m.metrics.RequestSent(cmd)
	return id, nil
}

// SendAndAwait sends cmd and registers done to be settled by the response,
// an error message or the timeout (Config.RequestTimeout when zero),
// whichever comes first. done is only ever called when err is nil.
func (m *Manager) SendAndAwait(cmd string, params any, timeout time.Duration, done Completion) (int64, error) {
	if timeout <= 0 {
		timeout = m.config.RequestTimeout
	}
	if done == nil {
		done = func(*wire.Message, error) {}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.sendLocked(cmd, params)
	if err != nil {
		return id, err
	}

	p := &pendingRequest{cmd: cmd, sent: m.clock.Now(), done: done}
	p.timer = m.clock.AfterFunc(timeout, func() { m.expire(id, p) })
	m.pending[id] = p
	m.metrics.SetPending(len(m.pending))
	return id, nil
}

// Request is the blocking form of SendAndAwait. A canceled ctx abandons the
// wait; the request itself still settles by response or timeout.
func (m *Manager) Request(ctx context.Context, cmd string, params any) (*wire.Message, error) {
	type result struct {
		msg *wire.Message
		err error
	}
	ch := make(chan result, 1)

	_, err := m.SendAndAwait(cmd, params, 0, func(msg *wire.Message, err error) {
		ch <- result{msg, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle completes pending request id. It reports false when the request
// was already settled (or never awaited).
func (m *Manager) settle(id int64, msg *wire.Message, err error) bool {
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, id)
	p.timer.Stop()
	n := len(m.pending)
	now := m.clock.Now()
	m.mu.Unlock()

	m.metrics.SetPending(n)
	m.metrics.ObserveRequest(p.cmd, now.Sub(p.sent))
	p.done(msg, err)
	return true
}

func (m *Manager) expire(id int64, p *pendingRequest) {
	m.mu.Lock()
	if m.pending[id] != p {
		m.mu.Unlock()
		return
	}
	delete(m.pending, id)
	n := len(m.pending)
	m.mu.Unlock()

	m.metrics.SetPending(n)
	m.metrics.RequestTimedOut(p.cmd)
	m.logger.Warn("request timed out", "cmd", p.cmd, "reqid", id)
	p.done(nil, errors.Timeoutf("%s request %d", p.cmd, id))
}

func (m *Manager) rejectAll(pending []*pendingRequest, err error) {
	for _, p := range pending {
		p.done(nil, err)
	}
}

// Subscribe asks the server to stream value updates for ids.
func (m *Manager) Subscribe(ids []string, done Completion) error {
	_, err := m.SendAndAwait(wire.CmdSubscribeWatchable, wire.SubscriptionParams{ServerIDs: ids}, 0, done)
	return err
}

// Unsubscribe stops the value updates for ids.
func (m *Manager) Unsubscribe(ids []string, done Completion) error {
	_, err := m.SendAndAwait(wire.CmdUnsubscribeWatchable, wire.SubscriptionParams{ServerIDs: ids}, 0, done)
	return err
}

// WriteValue writes v to the watchable serverID and waits for the server to
// accept it.
func (m *Manager) WriteValue(ctx context.Context, serverID string, v any) error {
	msg, err := m.Request(ctx, wire.CmdWriteWatchable, wire.WriteParams{
		Updates: []wire.WriteRequest{{ServerID: serverID, Value: v, BatchIndex: 0}},
	})
	if err != nil {
		return errors.Annotatef(err, "write %s", serverID)
	}
	if msg.Cmd != wire.CmdResponseWriteWatchable {
		return errors.Annotatef(ErrUnexpectedReply, "write %s: got %s", serverID, msg.Cmd)
	}
	return nil
}
