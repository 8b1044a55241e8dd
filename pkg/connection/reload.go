package connection

import (
	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/download"
	"github.com/devmirror/devmirror-go/pkg/log"
	"github.com/devmirror/devmirror-go/pkg/metrics"
	"github.com/devmirror/devmirror-go/pkg/store"
	"github.com/devmirror/devmirror-go/pkg/wire"
)

// Reload clears the categories of kind and downloads them again. The
// previous download of the same kind, if any, is canceled. The outcome is
// reported by EventDownloadComplete or EventDownloadFailed.
func (m *Manager) Reload(kind download.Kind) error {
	cats := kind.Categories()
	if len(cats) == 0 {
		return errors.NotValidf("download kind %d", kind)
	}

	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return errors.Annotatef(ErrNotConnected, "reload %s", kind)
	}
	prev := m.untrackLocked(kind)
	m.mu.Unlock()
	if prev != nil {
		m.metrics.DownloadFinished(kind.String(), metrics.OutcomeCanceled)
	}

	m.store.Clear(cats...)
	gens := m.store.Generations(cats...)

	_, err := m.SendAndAwait(wire.CmdGetWatchableCount, nil, 0, func(msg *wire.Message, err error) {
		m.onCount(kind, gens, msg, err)
	})
	if err != nil {
		return errors.Annotatef(err, "reload %s", kind)
	}
	m.logger.Debug("download requested", "kind", kind.String())
	return nil
}

// onCount starts the paged list request once the server announced how many
// entries it will send.
func (m *Manager) onCount(kind download.Kind, gens map[store.Category]uint64, msg *wire.Message, err error) {
	if errors.Is(err, ErrConnectionLost) {
		// Sessions die with the socket; nothing to report.
		return
	}
	if err != nil {
		m.downloadFailed(kind, errors.Annotate(err, "get watchable count"))
		return
	}
	resp, err := wire.DecodeCountResponse(msg)
	if err != nil {
		m.protocolError(m.ConnectionID(), err, msg.Cmd)
		m.downloadFailed(kind, err)
		return
	}

	// Only categories with entries are listed; the others are complete as
	// soon as the session exists.
	expected := make(map[store.Category]int)
	var filter []string
	for _, c := range kind.Categories() {
		name := c.WireName()
		if n, ok := resp.Qty[name]; ok {
			expected[c] = n
			if n > 0 {
				filter = append(filter, name)
			}
		}
	}

	// A clear in the meantime means another reload owns the categories.
	if c, stale := m.staleCategory(gens); stale {
		m.logger.Debug("discarding count for cleared category", "kind", kind.String(), "category", c.String())
		return
	}

	m.mu.Lock()
	id := InvalidRequestID
	if len(filter) > 0 {
		id, err = m.sendLocked(wire.CmdGetWatchableList, wire.GetWatchableListParams{
			MaxPerResponse: m.config.MaxPerResponse,
			Filter:         wire.ListFilter{Type: filter},
		})
		if err != nil {
			m.mu.Unlock()
			m.downloadFailed(kind, err)
			return
		}
	}
	s := download.NewSession(id, kind)
	s.SetGenerations(gens)
	if err := s.SetExpectedCounts(expected); err != nil {
		m.mu.Unlock()
		m.downloadFailed(kind, errors.Annotatef(err, "counts %v", resp.Qty))
		return
	}
	prev := m.untrackLocked(kind)
	m.sessions[kind] = s
	m.captureStateLocked(log.StateEntityDownload, "", "STARTED", kind.String())
	m.mu.Unlock()

	if prev != nil {
		m.metrics.DownloadFinished(kind.String(), metrics.OutcomeCanceled)
	}
	if m.dropIfStale(s) {
		return
	}
	m.logger.Debug("download started", "kind", kind.String(), "reqid", id, "expected", resp.Qty)

	m.evaluateSession(s)
}

// staleCategory returns a category whose generation moved past gens.
func (m *Manager) staleCategory(gens map[store.Category]uint64) (store.Category, bool) {
	for c, g := range gens {
		if m.store.Generation(c) != g {
			return c, true
		}
	}
	return 0, false
}

// dropIfStale untracks a just installed session whose categories were
// cleared before the clear handler could see it.
func (m *Manager) dropIfStale(s *download.Session) bool {
	c, stale := m.staleCategory(s.Generations())
	if !stale {
		return false
	}
	kind := s.Kind()
	s.Cancel()

	m.mu.Lock()
	tracked := m.sessions[kind] == s
	if tracked {
		delete(m.sessions, kind)
	}
	m.mu.Unlock()

	if tracked {
		m.metrics.DownloadFinished(kind.String(), metrics.OutcomeCanceled)
	}
	m.logger.Debug("discarding download for cleared category", "kind", kind.String(), "category", c.String())
	return true
}

// evaluateSession checks a session against the store after new entries
// arrived and finishes it when complete or overflowing.
func (m *Manager) evaluateSession(s *download.Session) {
	progress, err := s.Evaluate(m.store.Counts())
	switch {
	case errors.Is(err, download.ErrCanceled):
		return
	case err != nil:
		m.failSession(s, err)
	case progress == download.Complete:
		m.completeSession(s)
	}
}

func (m *Manager) completeSession(s *download.Session) {
	kind := s.Kind()

	m.mu.Lock()
	if m.sessions[kind] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, kind)
	m.captureStateLocked(log.StateEntityDownload, "STARTED", "COMPLETE", kind.String())
	m.mu.Unlock()

	if err := m.store.SetReadyIfCurrent(s.Generations()); err != nil {
		m.logger.Debug("download completed for cleared category", "kind", kind.String(), "error", err)
		m.metrics.DownloadFinished(kind.String(), metrics.OutcomeCanceled)
		return
	}

	m.metrics.DownloadFinished(kind.String(), metrics.OutcomeComplete)
	for c, n := range s.ExpectedCounts() {
		m.metrics.SetEntries(c.WireName(), n)
	}
	m.logger.Info("download complete", "kind", kind.String(), "counts", s.ExpectedCounts())

	m.mu.Lock()
	m.queueLocked(Event{Type: EventDownloadComplete, Kind: kind})
	m.mu.Unlock()
	m.dispatch()
}

// failSession abandons a download. Its categories keep whatever was
// inserted and stay not ready; retrying is up to the caller.
func (m *Manager) failSession(s *download.Session, cause error) {
	kind := s.Kind()
	s.Cancel()

	m.mu.Lock()
	if m.sessions[kind] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, kind)
	m.mu.Unlock()

	outcome := metrics.OutcomeFailed
	if errors.Is(cause, download.ErrOverflow) {
		outcome = metrics.OutcomeOverflow
	}
	m.metrics.DownloadFinished(kind.String(), outcome)
	m.downloadFailed(kind, cause)
}

func (m *Manager) downloadFailed(kind download.Kind, cause error) {
	m.logger.Error("download failed", "kind", kind.String(), "error", cause)

	m.mu.Lock()
	m.captureStateLocked(log.StateEntityDownload, "", "FAILED", cause.Error())
	m.queueLocked(Event{Type: EventDownloadFailed, Kind: kind, Err: cause})
	m.mu.Unlock()
	m.dispatch()
}

// CancelDownload cancels the download of kind. It reports whether one was
// in flight. Responses still on the wire are discarded.
func (m *Manager) CancelDownload(kind download.Kind) bool {
	m.mu.Lock()
	s := m.untrackLocked(kind)
	m.mu.Unlock()

	if s == nil {
		return false
	}
	m.metrics.DownloadFinished(kind.String(), metrics.OutcomeCanceled)
	m.logger.Debug("download canceled", "kind", kind.String(), "reqid", s.RequestID())
	return true
}

// ActiveSession returns the download of kind in flight, or nil.
func (m *Manager) ActiveSession(kind download.Kind) *download.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[kind]
}

func (m *Manager) untrackLocked(kind download.Kind) *download.Session {
	s := m.sessions[kind]
	if s != nil {
		s.Cancel()
		delete(m.sessions, kind)
	}
	return s
}

func (m *Manager) sessionByRequestLocked(id int64) *download.Session {
	for _, s := range m.sessions {
		if s.RequestID() == id {
			return s
		}
	}
	return nil
}
