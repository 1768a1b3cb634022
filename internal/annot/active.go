package annot

import (
	"sort"
	"sync"
	"time"
)

// DefaultEphemeralTTL is how long an ephemeral annotation stays in the
// active set before it expires.
const DefaultEphemeralTTL = 10 * time.Second

type activeEntry struct {
	annotation Annotation
	expiresAt  time.Time // zero means never
}

// ActiveSet is the in-memory view of a document's live annotations. It is
// the authority on ephemeral expiry: an ephemeral annotation is absent from
// snapshots once its deadline passes, even if storage briefly still lists
// it. Removal is idempotent, so a timer-driven expiry racing an explicit
// delete of the same id is harmless.
type ActiveSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]activeEntry
}

// NewActiveSet creates an active set with the given ephemeral lifetime.
// A non-positive ttl falls back to DefaultEphemeralTTL.
func NewActiveSet(ttl time.Duration) *ActiveSet {
	return NewActiveSetWithClock(ttl, time.Now)
}

// NewActiveSetWithClock is NewActiveSet with an injectable clock.
func NewActiveSetWithClock(ttl time.Duration, now func() time.Time) *ActiveSet {
	if ttl <= 0 {
		ttl = DefaultEphemeralTTL
	}
	return &ActiveSet{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]activeEntry),
	}
}

// Add inserts or replaces a persisted annotation. It never expires on its
// own; it leaves the set only via Remove.
func (s *ActiveSet) Add(a Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[a.ID] = activeEntry{annotation: a}
}

// AddEphemeral inserts an annotation with a bounded lifetime. The annotation
// is flagged ephemeral and expires ttl after insertion.
func (s *ActiveSet) AddEphemeral(a Annotation) {
	a.IsEphemeral = true
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[a.ID] = activeEntry{annotation: a, expiresAt: s.now().Add(s.ttl)}
}

// Remove deletes an annotation from the view. Removing an id that is absent,
// already removed, or already expired is a no-op.
func (s *ActiveSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Snapshot returns the live annotations ordered by timestamp, dropping and
// pruning anything past its deadline.
func (s *ActiveSet) Snapshot() []Annotation {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Annotation, 0, len(s.entries))
	for id, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, id)
			continue
		}
		items = append(items, entry.annotation)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp < items[j].Timestamp
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// Len reports the number of live annotations.
func (s *ActiveSet) Len() int {
	return len(s.Snapshot())
}
