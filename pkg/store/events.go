package store

// EventType identifies a store notification.
type EventType uint8

const (
	// EventReady - every entry of a category has been downloaded.
	EventReady EventType = iota

	// EventCleared - a category was reset.
	EventCleared

	// EventStartWatching - an entry got its first subscriber.
	EventStartWatching

	// EventStopWatching - an entry lost its last subscriber.
	EventStopWatching
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "READY"
	case EventCleared:
		return "CLEARED"
	case EventStartWatching:
		return "START_WATCHING"
	case EventStopWatching:
		return "STOP_WATCHING"
	default:
		return "UNKNOWN"
	}
}

// Event is a store notification.
type Event struct {
	Type EventType

	// Category is set for every event.
	Category Category

	// Entry is set for start/stop watching events.
	Entry *Entry

	// Unwatched lists the entries that were watched when the category was
	// cleared (EventCleared only). Their subscribers were dropped with them.
	Unwatched []*Entry
}

// EventHandler handles store events.
type EventHandler func(Event)
