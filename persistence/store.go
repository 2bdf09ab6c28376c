package persistence

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultRetention is how many snapshots a store keeps per actor path.
const DefaultRetention = 10

var (
	// ErrStoreClosed is returned for operations against a closed store.
	ErrStoreClosed = errors.New("snapshot store is closed")
	// ErrNonMonotonicSequence is returned when a save does not increase the
	// path's sequence number.
	ErrNonMonotonicSequence = errors.New("snapshot sequence number must increase")
	// ErrEmptyPath is returned when a snapshot carries no actor path.
	ErrEmptyPath = errors.New("snapshot actor path is empty")
)

// StoreResult reports the outcome of a save or delete.
type StoreResult struct {
	Err error
}

// LoadResult carries the loaded snapshot; Snapshot is nil when nothing
// matched the criteria.
type LoadResult struct {
	Snapshot *Snapshot
	Err      error
}

// ListResult carries metadata in ascending sequence order.
type ListResult struct {
	Metadata []SnapshotMetadata
	Err      error
}

// SnapshotStore is the asynchronous snapshot API. Every operation returns
// immediately; the result arrives once on the returned channel. Expected
// failures travel as result values, never as panics.
type SnapshotStore interface {
	// Save persists a snapshot. The path's retention limit is enforced
	// after the save: the oldest snapshots beyond the limit are evicted.
	Save(snapshot Snapshot) <-chan StoreResult
	// Load resolves to the matching snapshot with the highest SequenceNr.
	Load(actorPath string, criteria SelectionCriteria) <-chan LoadResult
	// Delete removes every matching snapshot.
	Delete(actorPath string, criteria SelectionCriteria) <-chan StoreResult
	// List returns metadata for every matching snapshot, ascending by
	// SequenceNr.
	List(actorPath string, criteria SelectionCriteria) <-chan ListResult
	Close() error
}

type storedSnapshot struct {
	meta  SnapshotMetadata
	frame []byte
}

// MemorySnapshotStore keeps framed, gzip-compressed snapshots in memory.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	byPath    map[string][]storedSnapshot
	retention int
	compress  bool
	closed    bool
	logger    *logrus.Logger
}

// MemoryStoreOption customises a MemorySnapshotStore.
type MemoryStoreOption func(*MemorySnapshotStore)

// WithRetention sets how many snapshots are kept per path.
func WithRetention(n int) MemoryStoreOption {
	return func(s *MemorySnapshotStore) {
		if n > 0 {
			s.retention = n
		}
	}
}

// WithCompression toggles gzip compression of stored payloads.
func WithCompression(on bool) MemoryStoreOption {
	return func(s *MemorySnapshotStore) { s.compress = on }
}

// WithStoreLogger sets the logger used for store events.
func WithStoreLogger(logger *logrus.Logger) MemoryStoreOption {
	return func(s *MemorySnapshotStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMemorySnapshotStore builds an in-memory store with the default
// retention of DefaultRetention snapshots per path.
func NewMemorySnapshotStore(opts ...MemoryStoreOption) *MemorySnapshotStore {
	s := &MemorySnapshotStore{
		byPath:    map[string][]storedSnapshot{},
		retention: DefaultRetention,
		compress:  true,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemorySnapshotStore) Save(snapshot Snapshot) <-chan StoreResult {
	out := make(chan StoreResult, 1)
	go func() {
		out <- StoreResult{Err: s.save(snapshot)}
	}()
	return out
}

func (s *MemorySnapshotStore) save(snapshot Snapshot) error {
	if snapshot.ActorPath == "" {
		return ErrEmptyPath
	}
	frame, err := encodeFrame(snapshot.Payload, s.compress)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	stored := s.byPath[snapshot.ActorPath]
	if n := len(stored); n > 0 && snapshot.SequenceNr <= stored[n-1].meta.SequenceNr {
		return errors.Wrapf(ErrNonMonotonicSequence,
			"got %d, last %d", snapshot.SequenceNr, stored[n-1].meta.SequenceNr)
	}
	stored = append(stored, storedSnapshot{
		meta: SnapshotMetadata{
			ActorPath:  snapshot.ActorPath,
			SequenceNr: snapshot.SequenceNr,
			Timestamp:  snapshot.Timestamp,
			StoredSize: len(frame),
		},
		frame: frame,
	})
	if evict := len(stored) - s.retention; evict > 0 {
		stored = stored[evict:]
		s.logger.WithFields(logrus.Fields{
			"actor":   snapshot.ActorPath,
			"evicted": evict,
		}).Debug("snapshot retention evicted old snapshots")
	}
	s.byPath[snapshot.ActorPath] = stored
	return nil
}

func (s *MemorySnapshotStore) Load(actorPath string, criteria SelectionCriteria) <-chan LoadResult {
	out := make(chan LoadResult, 1)
	go func() {
		out <- s.load(actorPath, criteria)
	}()
	return out
}

func (s *MemorySnapshotStore) load(actorPath string, criteria SelectionCriteria) LoadResult {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return LoadResult{Err: ErrStoreClosed}
	}
	var found *storedSnapshot
	stored := s.byPath[actorPath]
	for i := len(stored) - 1; i >= 0; i-- {
		if criteria.Matches(stored[i].meta) {
			found = &stored[i]
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return LoadResult{}
	}
	meta := found.meta
	frame := found.frame
	s.mu.Unlock()

	payload, err := decodeFrame(frame)
	if err != nil {
		return LoadResult{Err: err}
	}
	return LoadResult{Snapshot: &Snapshot{
		ActorPath:  meta.ActorPath,
		Payload:    payload,
		SequenceNr: meta.SequenceNr,
		Timestamp:  meta.Timestamp,
	}}
}

func (s *MemorySnapshotStore) Delete(actorPath string, criteria SelectionCriteria) <-chan StoreResult {
	out := make(chan StoreResult, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			out <- StoreResult{Err: ErrStoreClosed}
			return
		}
		stored := s.byPath[actorPath]
		kept := stored[:0]
		for _, snap := range stored {
			if !criteria.Matches(snap.meta) {
				kept = append(kept, snap)
			}
		}
		if len(kept) == 0 {
			delete(s.byPath, actorPath)
		} else {
			s.byPath[actorPath] = kept
		}
		out <- StoreResult{}
	}()
	return out
}

func (s *MemorySnapshotStore) List(actorPath string, criteria SelectionCriteria) <-chan ListResult {
	out := make(chan ListResult, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			out <- ListResult{Err: ErrStoreClosed}
			return
		}
		var metas []SnapshotMetadata
		for _, snap := range s.byPath[actorPath] {
			if criteria.Matches(snap.meta) {
				metas = append(metas, snap.meta)
			}
		}
		sort.Slice(metas, func(i, j int) bool {
			return metas[i].SequenceNr < metas[j].SequenceNr
		})
		out <- ListResult{Metadata: metas}
	}()
	return out
}

func (s *MemorySnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.byPath = map[string][]storedSnapshot{}
	return nil
}
