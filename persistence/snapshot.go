// Package persistence stores point-in-time actor state snapshots. Payloads
// are opaque bytes; callers serialize their state, the store frames and
// compresses it.
package persistence

import (
	"math"
	"time"
)

// Snapshot is one captured state for one actor path. SequenceNr must grow
// strictly per path; stores reject anything else.
type Snapshot struct {
	ActorPath  string
	Payload    []byte
	SequenceNr int64
	Timestamp  time.Time
}

// SnapshotMetadata describes a stored snapshot without its payload.
type SnapshotMetadata struct {
	ActorPath  string
	SequenceNr int64
	Timestamp  time.Time
	StoredSize int
}

// SelectionCriteria bounds which snapshots an operation touches. Zero
// timestamps mean unbounded on that side.
type SelectionCriteria struct {
	MinSequenceNr int64
	MaxSequenceNr int64
	MinTimestamp  time.Time
	MaxTimestamp  time.Time
}

// Latest selects everything; combined with Load it yields the newest
// snapshot for the path.
func Latest() SelectionCriteria {
	return SelectionCriteria{MaxSequenceNr: math.MaxInt64}
}

// BeforeSequenceNr selects snapshots with SequenceNr < n.
func BeforeSequenceNr(n int64) SelectionCriteria {
	return SelectionCriteria{MaxSequenceNr: n - 1}
}

// BeforeTimestamp selects snapshots taken before t.
func BeforeTimestamp(t time.Time) SelectionCriteria {
	return SelectionCriteria{
		MaxSequenceNr: math.MaxInt64,
		MaxTimestamp:  t.Add(-time.Nanosecond),
	}
}

// InSequenceRange selects lo <= SequenceNr <= hi.
func InSequenceRange(lo, hi int64) SelectionCriteria {
	return SelectionCriteria{MinSequenceNr: lo, MaxSequenceNr: hi}
}

// Matches reports whether the metadata falls inside the criteria.
func (c SelectionCriteria) Matches(meta SnapshotMetadata) bool {
	if meta.SequenceNr < c.MinSequenceNr || meta.SequenceNr > c.MaxSequenceNr {
		return false
	}
	if !c.MinTimestamp.IsZero() && meta.Timestamp.Before(c.MinTimestamp) {
		return false
	}
	if !c.MaxTimestamp.IsZero() && meta.Timestamp.After(c.MaxTimestamp) {
		return false
	}
	return true
}
