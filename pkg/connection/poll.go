package connection

import (
	"github.com/juju/clock"

	"github.com/devmirror/devmirror-go/pkg/wire"
)

// poll asks for the server status. The next poll is only scheduled once
// this one settled, so at most one status request is ever in flight.
func (m *Manager) poll(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected || m.polling {
		m.mu.Unlock()
		return
	}
	m.polling = true
	m.mu.Unlock()

	_, err := m.SendAndAwait(wire.CmdGetServerStatus, nil, 0, func(msg *wire.Message, err error) {
		m.onPollSettled(gen, msg, err)
	})
	if err != nil {
		m.mu.Lock()
		if gen == m.gen {
			m.polling = false
		}
		m.mu.Unlock()
		m.logger.Debug("status poll not sent", "error", err)
	}
}

func (m *Manager) onPollSettled(gen uint64, msg *wire.Message, err error) {
	if err == nil {
		m.handleStatus(gen, m.ConnectionID(), msg)
	} else {
		m.logger.Debug("status poll failed", "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != StateConnected {
		return
	}
	m.polling = false

	interval := m.config.PollInterval
	if m.datalogging != nil && m.datalogging.State.InProgress() {
		interval = m.config.FastPollInterval
	}
	m.stopTimerLocked(&m.pollTimer)

	var t clock.Timer
	t = m.clock.AfterFunc(interval, func() { m.pollFired(t, gen) })
	m.pollTimer = t
}

func (m *Manager) pollFired(t clock.Timer, gen uint64) {
	m.mu.Lock()
	if m.pollTimer != t {
		m.mu.Unlock()
		return
	}
	m.pollTimer = nil
	m.mu.Unlock()

	m.poll(gen)
}

// handleStatus applies a status report. Device and firmware events are
// raised on changes only, however often the same status is reported.
func (m *Manager) handleStatus(gen uint64, connID string, msg *wire.Message) {
	status, err := wire.DecodeServerStatus(msg)
	if err != nil {
		m.protocolError(connID, err, msg.Cmd)
		return
	}
	for _, w := range status.Warnings {
		m.logger.Warn("server status field ignored", "problem", w)
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	state := deviceStateFromStatus(status.DeviceStatus)
	if state == DeviceConnected && m.deviceState == DeviceConnected &&
		m.deviceSessionID != "" && status.DeviceSessionID != m.deviceSessionID {
		// The device was reset between two polls.
		m.logger.Info("device session changed", "old", m.deviceSessionID, "new", status.DeviceSessionID)
		m.applyDeviceLocked(DeviceDisconnected, nil, nil)
	}
	m.applyDeviceLocked(state, status.DeviceInfo, status.LoadedFirmware)
	m.datalogging = status.Datalogging
	m.deviceSessionID = status.DeviceSessionID
	m.mu.Unlock()

	m.dispatch()
}
