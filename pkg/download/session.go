// Package download tracks bulk watchable downloads.
//
// A Session is created when a paged "get_watchable_list" request is sent and
// is keyed by that request's id. It records how many entries the server
// announced per category and decides, from the store counts after every
// page, whether the download is complete or has overflowed.
//
// Two kinds of download exist and may be in flight at the same time:
// variables and aliases are downloaded together (they both come from the
// loaded firmware), runtime published values are downloaded alone.
//
// Cancellation is permanent and cooperative: a canceled session only tells
// the caller to ignore the responses still on the wire.
package download

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"

	"github.com/devmirror/devmirror-go/pkg/store"
)

// Session errors.
const (
	ErrCountMismatch      = errors.ConstError("expected counts do not match download kind")
	ErrIrrelevantCategory = errors.ConstError("category not part of download")
	ErrOverflow           = errors.ConstError("received more entries than announced")
	ErrCanceled           = errors.ConstError("download canceled")
)

// Kind selects which categories a download covers.
type Kind uint8

const (
	// KindVarAlias downloads variables and aliases together.
	KindVarAlias Kind = iota

	// KindRPV downloads runtime published values.
	KindRPV
)

// AllKinds lists every download kind.
var AllKinds = []Kind{KindVarAlias, KindRPV}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindVarAlias:
		return "VAR_ALIAS"
	case KindRPV:
		return "RPV"
	default:
		return "UNKNOWN"
	}
}

// Categories returns the categories covered by this kind.
func (k Kind) Categories() []store.Category {
	switch k {
	case KindVarAlias:
		return []store.Category{store.Variable, store.Alias}
	case KindRPV:
		return []store.Category{store.RuntimePublishedValue}
	default:
		return nil
	}
}

// Covers reports whether the kind includes category c.
func (k Kind) Covers(c store.Category) bool {
	for _, kc := range k.Categories() {
		if kc == c {
			return true
		}
	}
	return false
}

// KindOf returns the kind that downloads category c.
func KindOf(c store.Category) Kind {
	if c == store.RuntimePublishedValue {
		return KindRPV
	}
	return KindVarAlias
}

// ParseKind accepts "var", "alias", "varalias" and "rpv".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "var", "alias", "varalias", "var_alias", "sfd":
		return KindVarAlias, nil
	case "rpv":
		return KindRPV, nil
	}
	return 0, errors.NotValidf("download kind %q (use: varalias, rpv)", s)
}

// Progress is the outcome of evaluating a session against store counts.
type Progress uint8

const (
	// InProgress - some categories still miss entries.
	InProgress Progress = iota

	// Complete - every category reached its expected count exactly.
	Complete
)

// Session is one in-flight bulk download.
type Session struct {
	mu sync.Mutex

	requestID   int64
	kind        Kind
	canceled    bool
	expected    map[store.Category]int
	generations map[store.Category]uint64
}

// NewSession creates a session keyed by the list request id.
func NewSession(requestID int64, kind Kind) *Session {
	return &Session{
		requestID: requestID,
		kind:      kind,
	}
}

// RequestID returns the id of the list request that started the download.
func (s *Session) RequestID() int64 { return s.requestID }

// Kind returns the download kind.
func (s *Session) Kind() Kind { return s.kind }

// SetExpectedCounts records the announced counts. The map must contain
// exactly the categories of the session kind; otherwise the session is
// canceled and ErrCountMismatch returned.
func (s *Session) SetExpectedCounts(counts map[store.Category]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	relevant := s.kind.Categories()
	ok := len(counts) == len(relevant)
	for _, c := range relevant {
		n, present := counts[c]
		if !present || n < 0 {
			ok = false
		}
	}
	if !ok {
		s.canceled = true
		return errors.Annotatef(ErrCountMismatch, "%s download got %s", s.kind, formatCounts(counts))
	}

	s.expected = make(map[store.Category]int, len(counts))
	for c, n := range counts {
		s.expected[c] = n
	}
	return nil
}

// RequiredCount returns the expected count of category c.
func (s *Session) RequiredCount(c store.Category) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.kind.Covers(c) {
		return 0, errors.Annotatef(ErrIrrelevantCategory, "%s in %s download", c, s.kind)
	}
	n, ok := s.expected[c]
	if !ok {
		return 0, errors.Annotatef(ErrIrrelevantCategory, "%s has no expected count yet", c)
	}
	return n, nil
}

// ExpectedCounts returns a copy of the expected counts.
func (s *Session) ExpectedCounts() map[store.Category]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[store.Category]int, len(s.expected))
	for c, n := range s.expected {
		out[c] = n
	}
	return out
}

// SetGenerations records the store generations the download belongs to.
func (s *Session) SetGenerations(g map[store.Category]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations = g
}

// Generations returns the recorded store generations.
func (s *Session) Generations() map[store.Category]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations
}

// Cancel marks the session canceled. It never reverts.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = true
}

// Canceled reports whether the session was canceled.
func (s *Session) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Evaluate compares actual store counts with the expected ones. It returns
// Complete when every relevant category matches exactly, and ErrOverflow
// (canceling the session) when any category exceeds its expected count.
func (s *Session) Evaluate(counts map[store.Category]int) (Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.canceled {
		return InProgress, ErrCanceled
	}
	if s.expected == nil {
		return InProgress, errors.Annotatef(ErrCountMismatch, "%s download has no expected counts", s.kind)
	}

	complete := true
	for _, c := range s.kind.Categories() {
		got, want := counts[c], s.expected[c]
		if got > want {
			s.canceled = true
			return InProgress, errors.Annotatef(ErrOverflow, "%s: got %d, expected %d", c, got, want)
		}
		if got != want {
			complete = false
		}
	}
	if complete {
		return Complete, nil
	}
	return InProgress, nil
}

func formatCounts(counts map[store.Category]int) string {
	parts := make([]string, 0, len(counts))
	for c, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", c, n))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}
