package annot

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func TestActiveSetEphemeralExpiry(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	set := NewActiveSetWithClock(10*time.Second, clock.now)

	set.AddEphemeral(Annotation{ID: "ai-1", Comment: "summary"})
	if set.Len() != 1 {
		t.Fatalf("expected 1 live annotation, got %d", set.Len())
	}

	clock.advance(9 * time.Second)
	if set.Len() != 1 {
		t.Error("annotation expired before its deadline")
	}

	clock.advance(2 * time.Second)
	if set.Len() != 0 {
		t.Error("annotation should be absent after ttl + epsilon without any explicit delete")
	}
}

func TestActiveSetEphemeralFlagged(t *testing.T) {
	set := NewActiveSet(0)
	set.AddEphemeral(Annotation{ID: "ai-1"})

	snapshot := set.Snapshot()
	if len(snapshot) != 1 || !snapshot[0].IsEphemeral {
		t.Errorf("ephemeral insert should flag the annotation: %+v", snapshot)
	}
}

func TestActiveSetPersistedNeverExpires(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	set := NewActiveSetWithClock(time.Second, clock.now)

	set.Add(Annotation{ID: "a1"})
	clock.advance(time.Hour)
	if set.Len() != 1 {
		t.Error("persisted annotations leave the set only via Remove")
	}
}

func TestActiveSetRemoveIdempotent(t *testing.T) {
	set := NewActiveSet(0)
	set.Add(Annotation{ID: "a1"})

	set.Remove("a1")
	set.Remove("a1") // expiry racing an explicit delete looks like this
	set.Remove("never-existed")

	if set.Len() != 0 {
		t.Errorf("expected empty set, got %d", set.Len())
	}
}

func TestActiveSetSnapshotOrdering(t *testing.T) {
	set := NewActiveSet(0)
	set.Add(Annotation{ID: "b", Timestamp: 200})
	set.Add(Annotation{ID: "a", Timestamp: 100})
	set.Add(Annotation{ID: "c", Timestamp: 200})

	snapshot := set.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 annotations, got %d", len(snapshot))
	}
	if snapshot[0].ID != "a" || snapshot[1].ID != "b" || snapshot[2].ID != "c" {
		t.Errorf("unexpected order: %s %s %s", snapshot[0].ID, snapshot[1].ID, snapshot[2].ID)
	}
}
