// Package store holds the local mirror of the device watchables.
//
// The Store keeps one path tree per Category, an index by server id, a ready
// flag per category and the set of entries that currently have subscribers.
// State changes are reported through handlers registered with OnEvent:
//
//	st := store.New()
//	st.OnEvent(func(ev store.Event) {
//	    if ev.Type == store.EventStartWatching {
//	        // ask the server to stream ev.Entry
//	    }
//	})
//
//	entry, err := st.Watch(store.Variable, "/motor/speed", "plot-1",
//	    func(e *store.Entry, v any) { ... })
//
// Handlers run synchronously, outside the store lock, in registration order.
// They may call back into the Store.
package store

import (
	"log/slog"
	"sync"

	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/pathtree"
)

// Store errors.
const (
	ErrNotFound        = errors.NotFound
	ErrDuplicateID     = errors.ConstError("duplicate server id")
	ErrPathExists      = errors.ConstError("display path already used")
	ErrStaleGeneration = errors.ConstError("store generation changed")
)

// Store is the path-indexed registry of entries.
type Store struct {
	mu sync.Mutex

	trees      map[Category]*pathtree.Tree[*Entry]
	cache      map[Category]map[string]*Entry
	ready      map[Category]bool
	generation map[Category]uint64
	byID       map[string]*Entry

	// subscriber id -> entries it watches
	watchers map[string]map[*Entry]struct{}
	// entries with at least one subscriber
	watched map[*Entry]struct{}

	handlers []EventHandler
	logger   *slog.Logger
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		trees:      make(map[Category]*pathtree.Tree[*Entry]),
		cache:      make(map[Category]map[string]*Entry),
		ready:      make(map[Category]bool),
		generation: make(map[Category]uint64),
		byID:       make(map[string]*Entry),
		watchers:   make(map[string]map[*Entry]struct{}),
		watched:    make(map[*Entry]struct{}),
	}
	for _, c := range AllCategories {
		s.trees[c] = pathtree.New[*Entry]()
		s.cache[c] = make(map[string]*Entry)
	}
	return s
}

// SetLogger sets the logger for debug output.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// OnEvent registers a handler for store events.
func (s *Store) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *Store) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	handlers := append([]EventHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
}

func (s *Store) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

// Add inserts an entry into its category tree and the id index. It fails
// with ErrDuplicateID when the server id is already indexed and with
// ErrPathExists when its display path is taken in the category tree.
func (s *Store) Add(entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(entry)
}

func (s *Store) addLocked(entry *Entry) error {
	if !entry.category.IsValid() {
		return errors.NotValidf("category %d", entry.category)
	}
	if _, exists := s.byID[entry.serverID]; exists {
		return errors.Annotatef(ErrDuplicateID, "%q", entry.serverID)
	}
	err := s.trees[entry.category].Insert(entry.displayPath, entry)
	switch {
	case errors.Is(err, pathtree.ErrExists):
		return errors.Annotatef(ErrPathExists, "%s %q", entry.category, pathtree.Normalize(entry.displayPath))
	case err != nil:
		return errors.Annotatef(err, "add %s", entry.category)
	}
	s.byID[entry.serverID] = entry
	return nil
}

// AddBatch inserts entries atomically, provided no category listed in
// generations was cleared since those generations were captured. Either
// every entry is inserted or none is.
func (s *Store) AddBatch(entries []*Entry, generations map[Category]uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c, g := range generations {
		if s.generation[c] != g {
			return errors.Annotatef(ErrStaleGeneration, "%s generation %d, now %d", c, g, s.generation[c])
		}
	}

	seenIDs := make(map[string]struct{}, len(entries))
	seenPaths := make(map[Category]map[string]struct{})
	for _, e := range entries {
		if !e.category.IsValid() {
			return errors.NotValidf("category %d", e.category)
		}
		if _, exists := s.byID[e.serverID]; exists {
			return errors.Annotatef(ErrDuplicateID, "%q", e.serverID)
		}
		if _, dup := seenIDs[e.serverID]; dup {
			return errors.Annotatef(ErrDuplicateID, "%q", e.serverID)
		}
		seenIDs[e.serverID] = struct{}{}

		path := pathtree.Normalize(e.displayPath)
		if s.trees[e.category].Has(path) {
			return errors.Annotatef(ErrPathExists, "%s %q", e.category, path)
		}
		if seenPaths[e.category] == nil {
			seenPaths[e.category] = make(map[string]struct{})
		}
		if _, dup := seenPaths[e.category][path]; dup {
			return errors.Annotatef(ErrPathExists, "%s %q", e.category, path)
		}
		seenPaths[e.category][path] = struct{}{}
	}

	for _, e := range entries {
		if err := s.addLocked(e); err != nil {
			// Pre-validated above; reaching this is a bug.
			return errors.Trace(err)
		}
	}
	return nil
}

// Generation returns the clear counter of a category.
func (s *Store) Generation(c Category) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation[c]
}

// Get returns the entry at path in category c. Lookups go through a flat
// per-category cache that is dropped by Clear.
func (s *Store) Get(c Category, path string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(c, path)
}

func (s *Store) getLocked(c Category, path string) (*Entry, error) {
	tree, ok := s.trees[c]
	if !ok {
		return nil, errors.NotValidf("category %d", c)
	}
	key := pathtree.Normalize(path)
	if e, ok := s.cache[c][key]; ok {
		return e, nil
	}
	e, err := tree.Get(key)
	if err != nil {
		return nil, errors.NotFoundf("%s %q", c, key)
	}
	s.cache[c][key] = e
	return e, nil
}

// GetEntry checks that entry is the live instance held by the store and
// returns it. Handles kept across a Clear resolve to ErrNotFound.
func (s *Store) GetEntry(entry *Entry) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(entry)
}

func (s *Store) resolveLocked(entry *Entry) (*Entry, error) {
	if entry == nil {
		return nil, errors.NotValidf("nil entry")
	}
	if cur, ok := s.byID[entry.serverID]; !ok || cur != entry {
		return nil, errors.NotFoundf("entry %q", entry.serverID)
	}
	return entry, nil
}

// GetByServerID returns the entry with the given server id.
func (s *Store) GetByServerID(serverID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[serverID]
	if !ok {
		return nil, errors.NotFoundf("server id %q", serverID)
	}
	return e, nil
}

// SetValue routes a value to the entry with the given server id.
func (s *Store) SetValue(serverID string, value any) error {
	e, err := s.GetByServerID(serverID)
	if err != nil {
		return err
	}
	e.SetValue(value)
	return nil
}

// Children lists the immediate content of path in category c.
func (s *Store) Children(c Category, path string) (pathtree.Children[*Entry], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, ok := s.trees[c]
	if !ok {
		return pathtree.Children[*Entry]{}, errors.NotValidf("category %d", c)
	}
	return tree.Children(path)
}

// AllPaths returns every display path of category c.
func (s *Store) AllPaths(c Category) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tree, ok := s.trees[c]; ok {
		return tree.AllPaths()
	}
	return nil
}

// Count returns the number of entries in category c.
func (s *Store) Count(c Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tree, ok := s.trees[c]; ok {
		return tree.Count()
	}
	return 0
}

// Counts returns the number of entries per category.
func (s *Store) Counts() map[Category]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Category]int, len(s.trees))
	for c, tree := range s.trees {
		out[c] = tree.Count()
	}
	return out
}

// IsReady reports whether category c has been fully downloaded.
func (s *Store) IsReady(c Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready[c]
}

// SetReady marks categories ready. EventReady is emitted only on the
// transition from not ready.
func (s *Store) SetReady(categories ...Category) {
	var events []Event

	s.mu.Lock()
	for _, c := range categories {
		if !c.IsValid() || s.ready[c] {
			continue
		}
		s.ready[c] = true
		events = append(events, Event{Type: EventReady, Category: c})
		s.debug("store: category ready", "category", c.String(), "count", s.trees[c].Count())
	}
	s.mu.Unlock()

	s.emit(events...)
}

// SetReadyIfCurrent marks the categories of generations ready, unless one
// of them was cleared since the generations were captured.
func (s *Store) SetReadyIfCurrent(generations map[Category]uint64) error {
	var events []Event

	s.mu.Lock()
	for c, g := range generations {
		if s.generation[c] != g {
			s.mu.Unlock()
			return errors.Annotatef(ErrStaleGeneration, "%s generation %d, now %d", c, g, s.generation[c])
		}
	}
	for _, c := range AllCategories {
		if _, ok := generations[c]; !ok || s.ready[c] {
			continue
		}
		s.ready[c] = true
		events = append(events, Event{Type: EventReady, Category: c})
		s.debug("store: category ready", "category", c.String(), "count", s.trees[c].Count())
	}
	s.mu.Unlock()

	s.emit(events...)
	return nil
}

// Generations returns the clear counters of the given categories.
func (s *Store) Generations(categories ...Category) map[Category]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Category]uint64, len(categories))
	for _, c := range categories {
		out[c] = s.generation[c]
	}
	return out
}

// Clear resets the given categories, or all of them when none is given.
// Entries of a cleared category leave the id index and the watched set;
// their subscribers are dropped and reported in Event.Unwatched.
func (s *Store) Clear(categories ...Category) {
	if len(categories) == 0 {
		categories = AllCategories
	}

	var events []Event

	s.mu.Lock()
	for _, c := range categories {
		tree, ok := s.trees[c]
		if !ok {
			continue
		}

		var unwatched []*Entry
		tree.Walk(func(_ string, e *Entry) {
			delete(s.byID, e.serverID)
			if _, ok := s.watched[e]; ok {
				delete(s.watched, e)
				unwatched = append(unwatched, e)
			}
			e.dropSubscribers()
		})
		for sub, set := range s.watchers {
			for e := range set {
				if e.category == c {
					delete(set, e)
				}
			}
			if len(set) == 0 {
				delete(s.watchers, sub)
			}
		}

		tree.Clear()
		s.cache[c] = make(map[string]*Entry)
		s.ready[c] = false
		s.generation[c]++
		events = append(events, Event{Type: EventCleared, Category: c, Unwatched: unwatched})
		s.debug("store: category cleared", "category", c.String(), "generation", s.generation[c])
	}
	s.mu.Unlock()

	s.emit(events...)
}

// Watch registers cb for subscriberID on the entry at path in category c.
// EventStartWatching is emitted when the entry gets its first subscriber.
func (s *Store) Watch(c Category, path, subscriberID string, cb Callback) (*Entry, error) {
	s.mu.Lock()
	entry, err := s.getLocked(c, path)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ev := s.watchLocked(entry, subscriberID, cb)
	s.mu.Unlock()

	if ev != nil {
		s.emit(*ev)
	}
	return entry, nil
}

// WatchEntry is Watch for an entry handle.
func (s *Store) WatchEntry(entry *Entry, subscriberID string, cb Callback) error {
	s.mu.Lock()
	if _, err := s.resolveLocked(entry); err != nil {
		s.mu.Unlock()
		return err
	}
	ev := s.watchLocked(entry, subscriberID, cb)
	s.mu.Unlock()

	if ev != nil {
		s.emit(*ev)
	}
	return nil
}

func (s *Store) watchLocked(entry *Entry, subscriberID string, cb Callback) *Event {
	first := !entry.HasSubscribers()
	entry.Watch(subscriberID, cb)

	set, ok := s.watchers[subscriberID]
	if !ok {
		set = make(map[*Entry]struct{})
		s.watchers[subscriberID] = set
	}
	set[entry] = struct{}{}

	if !first {
		return nil
	}
	s.watched[entry] = struct{}{}
	return &Event{Type: EventStartWatching, Category: entry.category, Entry: entry}
}

// Unwatch removes subscriberID from a single entry.
func (s *Store) Unwatch(subscriberID string, entry *Entry) error {
	s.mu.Lock()
	if _, err := s.resolveLocked(entry); err != nil {
		s.mu.Unlock()
		return err
	}
	ev := s.unwatchLocked(subscriberID, entry)
	if set, ok := s.watchers[subscriberID]; ok {
		delete(set, entry)
		if len(set) == 0 {
			delete(s.watchers, subscriberID)
		}
	}
	s.mu.Unlock()

	if ev != nil {
		s.emit(*ev)
	}
	return nil
}

// UnwatchAll removes subscriberID from every entry it watches.
// EventStopWatching is emitted for each entry left without subscribers.
func (s *Store) UnwatchAll(subscriberID string) {
	var events []Event

	s.mu.Lock()
	for entry := range s.watchers[subscriberID] {
		if ev := s.unwatchLocked(subscriberID, entry); ev != nil {
			events = append(events, *ev)
		}
	}
	delete(s.watchers, subscriberID)
	s.mu.Unlock()

	s.emit(events...)
}

func (s *Store) unwatchLocked(subscriberID string, entry *Entry) *Event {
	if !entry.Unwatch(subscriberID) || entry.HasSubscribers() {
		return nil
	}
	if _, ok := s.watched[entry]; !ok {
		return nil
	}
	delete(s.watched, entry)
	return &Event{Type: EventStopWatching, Category: entry.category, Entry: entry}
}

// IsWatched reports whether the entry has at least one subscriber.
func (s *Store) IsWatched(entry *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.watched[entry]
	return ok
}

// WatchedEntries returns the entries that currently have subscribers.
func (s *Store) WatchedEntries() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.watched))
	for e := range s.watched {
		out = append(out, e)
	}
	return out
}

// WatchedBy returns the entries watched by subscriberID.
func (s *Store) WatchedBy(subscriberID string) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.watchers[subscriberID]))
	for e := range s.watchers[subscriberID] {
		out = append(out, e)
	}
	return out
}
