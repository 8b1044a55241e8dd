package connection

import (
	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/log"
	"github.com/devmirror/devmirror-go/pkg/store"
	"github.com/devmirror/devmirror-go/pkg/wire"
)

// handleFrame routes one inbound frame of socket generation gen.
func (m *Manager) handleFrame(gen uint64, connID string, data []byte) {
	msg, err := wire.DecodeMessage(data)
	if err != nil {
		m.protocolError(connID, err, "decode frame")
		return
	}

	typ := log.MessageTypePush
	if msg.HasReqID() {
		typ = log.MessageTypeResponse
	}
	m.captureMessage(connID, log.DirectionIn, typ, msg.Cmd, msg.ReqID, data)

	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if !current {
		return
	}

	switch msg.Cmd {
	case wire.CmdWatchableUpdate:
		m.handleUpdate(connID, msg)

	case wire.CmdResponseGetWatchableList:
		m.handleListPage(connID, msg)

	case wire.CmdError:
		m.handleError(connID, msg)

	case wire.CmdInformServerStatus:
		if msg.HasReqID() && m.settle(msg.ID(), msg, nil) {
			return
		}
		// Unsolicited status push.
		m.handleStatus(gen, connID, msg)

	default:
		if msg.HasReqID() && m.settle(msg.ID(), msg, nil) {
			return
		}
		m.logger.Debug("dropping unexpected message", "cmd", msg.Cmd, "reqid", msg.ID())
	}
}

// handleUpdate applies pushed values. Unknown ids are skipped: the entry may
// have been cleared while the server was still streaming it.
func (m *Manager) handleUpdate(connID string, msg *wire.Message) {
	upd, err := wire.DecodeUpdateMessage(msg)
	if err != nil {
		m.protocolError(connID, err, msg.Cmd)
		return
	}

	for _, u := range upd.Updates {
		if err := m.store.SetValue(u.ServerID, u.Value); err != nil {
			m.metrics.UpdateDropped()
			m.logger.Debug("value update for unknown watchable", "id", u.ServerID, "error", err)
			continue
		}
		m.metrics.UpdateApplied()
	}
}

// handleError routes an error message: to the download it aborts, or to the
// pending request it answers.
func (m *Manager) handleError(connID string, msg *wire.Message) {
	resp, err := wire.DecodeError(msg)
	if err != nil {
		m.protocolError(connID, err, msg.Cmd)
		return
	}

	if msg.HasReqID() {
		m.mu.Lock()
		s := m.sessionByRequestLocked(msg.ID())
		m.mu.Unlock()
		if s != nil {
			m.failSession(s, resp)
			return
		}
		if m.settle(msg.ID(), nil, resp) {
			return
		}
	}
	m.logger.Warn("server error", "reqid", msg.ID(), "request_cmd", resp.RequestCmd, "msg", resp.Msg)
}

// handleListPage inserts one page of a bulk download. Pages are matched to
// sessions by request id, never by kind, since one download of each kind
// may be in flight.
func (m *Manager) handleListPage(connID string, msg *wire.Message) {
	if !msg.HasReqID() {
		m.protocolError(connID, errors.NotValidf("%s without reqid", msg.Cmd), msg.Cmd)
		return
	}

	m.mu.Lock()
	s := m.sessionByRequestLocked(msg.ID())
	m.mu.Unlock()
	if s == nil || s.Canceled() {
		m.logger.Debug("discarding stale list page", "reqid", msg.ID())
		return
	}

	page, err := wire.DecodeListResponse(msg)
	if err != nil {
		m.protocolError(connID, err, msg.Cmd)
		m.failSession(s, err)
		return
	}

	var entries []*store.Entry
	received := make(map[store.Category]int)
	for typeName, defs := range page.Content {
		// Servers may list every category, empty ones included.
		if len(defs) == 0 {
			continue
		}
		c, ok := store.CategoryFromWire(typeName)
		if !ok || !s.Kind().Covers(c) {
			m.failSession(s, errors.NotValidf("%q entries in %s download", typeName, s.Kind()))
			return
		}
		for _, def := range defs {
			entries = append(entries, store.EntryFromDefinition(c, def))
		}
		received[c] += len(defs)
	}

	err = m.store.AddBatch(entries, s.Generations())
	switch {
	case errors.Is(err, store.ErrStaleGeneration):
		m.logger.Debug("discarding list page for cleared category", "reqid", msg.ID(), "error", err)
		return
	case err != nil:
		m.logger.Error("inconsistent watchable list", "reqid", msg.ID(), "error", err)
		m.failSession(s, err)
		return
	}
	for c, n := range received {
		m.metrics.EntriesReceived(c.WireName(), n)
	}

	m.evaluateSession(s)
}
