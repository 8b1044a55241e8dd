package mirror

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/connection"
	"github.com/devmirror/devmirror-go/pkg/download"
	"github.com/devmirror/devmirror-go/pkg/store"
	"github.com/devmirror/devmirror-go/pkg/wire"
)

// Mirror keeps the store and the server subscriptions in line with the
// Manager's view of the device.
type Mirror struct {
	mgr    *connection.Manager
	store  *store.Store
	logger *slog.Logger
	subs   *subscriptions
}

// New attaches a Mirror to mgr and its store. It must be created before
// mgr is started so no edge is missed.
func New(mgr *connection.Manager, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mi := &Mirror{
		mgr:    mgr,
		store:  mgr.Store(),
		logger: logger,
		subs:   newSubscriptions(),
	}
	mgr.OnEvent(mi.onManagerEvent)
	mi.store.OnEvent(mi.onStoreEvent)
	return mi
}

// Manager returns the underlying connection manager.
func (mi *Mirror) Manager() *connection.Manager { return mi.mgr }

// Store returns the mirrored store.
func (mi *Mirror) Store() *store.Store { return mi.store }

// Start connects to the server.
func (mi *Mirror) Start() error { return mi.mgr.Start() }

// Stop disconnects. Subscriptions are released before the socket closes.
func (mi *Mirror) Stop() { mi.mgr.Stop() }

func (mi *Mirror) onManagerEvent(ev connection.Event) {
	switch ev.Type {
	case connection.EventServerConnected:
		mi.subs.reset()

	case connection.EventServerDisconnected:
		// Only reaches the server when Stop is unwinding an open socket.
		if ids := mi.subs.reset(); len(ids) > 0 {
			if err := mi.mgr.Unsubscribe(ids, nil); err != nil {
				mi.logger.Debug("mirror: unsubscribe on disconnect", "count", len(ids), "error", err)
			}
		}
		mi.store.Clear()

	case connection.EventDeviceConnected:
		mi.reload(download.KindRPV)

	case connection.EventDeviceDisconnected:
		mi.unload(download.KindRPV)

	case connection.EventFirmwareLoaded:
		if ev.Firmware != nil {
			mi.logger.Info("mirror: firmware loaded", "firmware_id", ev.Firmware.FirmwareID)
		}
		mi.reload(download.KindVarAlias)

	case connection.EventFirmwareUnloaded:
		mi.unload(download.KindVarAlias)

	case connection.EventDownloadComplete:
		mi.logger.Info("mirror: download complete", "kind", ev.Kind.String())

	case connection.EventDownloadFailed:
		// Not retried: the categories stay not ready until the next edge.
		mi.logger.Warn("mirror: download failed", "kind", ev.Kind.String(), "error", ev.Err)
	}
}

func (mi *Mirror) reload(kind download.Kind) {
	if err := mi.mgr.Reload(kind); err != nil {
		mi.logger.Warn("mirror: reload", "kind", kind.String(), "error", err)
	}
}

func (mi *Mirror) unload(kind download.Kind) {
	mi.mgr.CancelDownload(kind)
	mi.store.Clear(kind.Categories()...)
}

func (mi *Mirror) onStoreEvent(ev store.Event) {
	switch ev.Type {
	case store.EventStartWatching:
		mi.subscribe([]*store.Entry{ev.Entry})

	case store.EventStopWatching:
		id := ev.Entry.ServerID()
		if mi.subs.remove(id) {
			mi.unsubscribe([]string{id})
		}

	case store.EventCleared:
		var ids []string
		for _, e := range ev.Unwatched {
			if mi.subs.remove(e.ServerID()) {
				ids = append(ids, e.ServerID())
			}
		}
		if len(ids) > 0 {
			mi.unsubscribe(ids)
		}

	case store.EventReady:
		var pending []*store.Entry
		for _, e := range mi.store.WatchedEntries() {
			if e.Category() == ev.Category && !mi.subs.has(e.ServerID()) {
				pending = append(pending, e)
			}
		}
		mi.subscribe(pending)
	}
}

// subscribe asks the server for updates of entries not yet subscribed.
// Failed ids are forgotten again so the next ready edge retries them.
func (mi *Mirror) subscribe(entries []*store.Entry) {
	if len(entries) == 0 || mi.mgr.State() != connection.StateConnected {
		return
	}

	var ids []string
	for _, e := range entries {
		if mi.subs.add(e.ServerID()) {
			ids = append(ids, e.ServerID())
		}
	}
	if len(ids) == 0 {
		return
	}

	forget := func(err error) {
		for _, id := range ids {
			mi.subs.remove(id)
		}
		mi.logger.Warn("mirror: subscribe failed", "ids", ids, "error", err)
	}
	err := mi.mgr.Subscribe(ids, func(_ *wire.Message, err error) {
		if err != nil {
			forget(err)
		}
	})
	if err != nil {
		forget(err)
		return
	}
	mi.logger.Debug("mirror: subscribed", "ids", ids)
}

func (mi *Mirror) unsubscribe(ids []string) {
	if mi.mgr.State() != connection.StateConnected {
		return
	}
	err := mi.mgr.Unsubscribe(ids, func(_ *wire.Message, err error) {
		if err != nil {
			mi.logger.Debug("mirror: unsubscribe failed", "ids", ids, "error", err)
		}
	})
	if err != nil {
		mi.logger.Debug("mirror: unsubscribe not sent", "ids", ids, "error", err)
	}
}

// Subscribed reports whether the server streams updates for serverID.
func (mi *Mirror) Subscribed(serverID string) bool {
	return mi.subs.has(serverID)
}

// Write sets the value of the entry at path. String values are parsed
// according to the entry datatype; enum entries also accept value names.
func (mi *Mirror) Write(ctx context.Context, c store.Category, path string, v any) error {
	entry, err := mi.store.Get(c, path)
	if err != nil {
		return errors.Trace(err)
	}
	value, err := coerce(entry, v)
	if err != nil {
		return errors.Annotatef(err, "write %s", entry.DisplayPath())
	}
	return mi.mgr.WriteValue(ctx, entry.ServerID(), value)
}

func coerce(entry *store.Entry, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	if enum := entry.Enum(); enum != nil {
		if n, ok := enum.Values[strings.TrimSpace(s)]; ok {
			return n, nil
		}
	}
	return entry.DataType().ParseValue(s)
}

// Status is a snapshot of the mirror for display.
type Status struct {
	Server      connection.State
	Device      connection.DeviceState
	DeviceInfo  *wire.DeviceInfo
	Firmware    *wire.FirmwareDescription
	Datalogging *wire.DataloggingStatus
	Counts      map[store.Category]int
	Ready       map[store.Category]bool
	Downloads   []download.Kind
	Pending     int
	Subscribed  int
}

// Status returns the current snapshot.
func (mi *Mirror) Status() Status {
	st := Status{
		Server:      mi.mgr.State(),
		Device:      mi.mgr.DeviceState(),
		DeviceInfo:  mi.mgr.DeviceInfo(),
		Firmware:    mi.mgr.LoadedFirmware(),
		Datalogging: mi.mgr.Datalogging(),
		Counts:      mi.store.Counts(),
		Ready:       make(map[store.Category]bool, len(store.AllCategories)),
		Pending:     mi.mgr.PendingRequests(),
		Subscribed:  mi.subs.len(),
	}
	for _, c := range store.AllCategories {
		st.Ready[c] = mi.store.IsReady(c)
	}
	for _, k := range download.AllKinds {
		if mi.mgr.ActiveSession(k) != nil {
			st.Downloads = append(st.Downloads, k)
		}
	}
	return st
}
