package store

import (
	"sync"

	"github.com/devmirror/devmirror-go/pkg/wire"
)

// Callback receives the new value of a watched entry.
type Callback func(entry *Entry, value any)

// Entry is one addressable watchable: a variable, an alias or a runtime
// published value.
type Entry struct {
	category    Category
	serverID    string
	displayPath string
	dataType    wire.DataType
	enum        *wire.EnumDefinition

	mu          sync.Mutex
	value       any
	subscribers map[string][]Callback
}

// NewEntry creates an entry with no value and no subscribers.
func NewEntry(category Category, serverID, displayPath string, dataType wire.DataType, enum *wire.EnumDefinition) *Entry {
	return &Entry{
		category:    category,
		serverID:    serverID,
		displayPath: displayPath,
		dataType:    dataType,
		enum:        enum,
		subscribers: make(map[string][]Callback),
	}
}

// EntryFromDefinition creates an entry from a list response definition.
func EntryFromDefinition(category Category, def wire.WatchableDefinition) *Entry {
	return NewEntry(category, def.ServerID, def.DisplayPath, def.DataType, def.Enum)
}

// Category returns the entry category.
func (e *Entry) Category() Category { return e.category }

// ServerID returns the transport identifier, unique across the store.
func (e *Entry) ServerID() string { return e.serverID }

// DisplayPath returns the tree path, unique within the category.
func (e *Entry) DisplayPath() string { return e.displayPath }

// DataType returns the embedded datatype.
func (e *Entry) DataType() wire.DataType { return e.dataType }

// Enum returns the enum definition, or nil.
func (e *Entry) Enum() *wire.EnumDefinition { return e.enum }

// Value returns the last known value. Nil means no value received yet.
func (e *Entry) Value() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// SetValue stores v and then invokes every subscriber's callbacks. Each
// subscriber's callbacks run in registration order; the order between
// subscribers is unspecified. Callbacks run without the entry lock held.
func (e *Entry) SetValue(v any) {
	e.mu.Lock()
	e.value = v
	var calls [][]Callback
	for _, cbs := range e.subscribers {
		calls = append(calls, append([]Callback(nil), cbs...))
	}
	e.mu.Unlock()

	for _, cbs := range calls {
		for _, cb := range cbs {
			cb(e, v)
		}
	}
}

// Watch appends cb to the subscriber's callback list.
func (e *Entry) Watch(subscriberID string, cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers[subscriberID] = append(e.subscribers[subscriberID], cb)
}

// Unwatch removes every callback of the subscriber. It reports whether the
// subscriber was registered.
func (e *Entry) Unwatch(subscriberID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subscribers[subscriberID]
	delete(e.subscribers, subscriberID)
	return ok
}

// HasSubscribers reports whether at least one subscriber watches the entry.
func (e *Entry) HasSubscribers() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers) > 0
}

// Subscribers returns the ids of the current subscribers.
func (e *Entry) Subscribers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.subscribers))
	for id := range e.subscribers {
		ids = append(ids, id)
	}
	return ids
}

func (e *Entry) dropSubscribers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = make(map[string][]Callback)
}
