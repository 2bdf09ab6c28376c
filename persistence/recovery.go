package persistence

import "github.com/pkg/errors"

// SnapshotRecoverable is implemented by state owners that can reinstate
// themselves from a snapshot payload.
type SnapshotRecoverable interface {
	RecoverFromSnapshot(meta SnapshotMetadata, payload []byte) error
}

// Recovery replays the newest matching snapshot into a target.
type Recovery struct {
	store SnapshotStore
}

func NewRecovery(store SnapshotStore) *Recovery {
	return &Recovery{store: store}
}

// Run loads the highest matching snapshot for actorPath and hands its
// payload to target. No matching snapshot is not an error; the target simply
// starts fresh.
func (r *Recovery) Run(actorPath string, criteria SelectionCriteria, target SnapshotRecoverable) error {
	res := <-r.store.Load(actorPath, criteria)
	if res.Err != nil {
		return errors.Wrapf(res.Err, "recovering %s", actorPath)
	}
	if res.Snapshot == nil {
		return nil
	}
	meta := SnapshotMetadata{
		ActorPath:  res.Snapshot.ActorPath,
		SequenceNr: res.Snapshot.SequenceNr,
		Timestamp:  res.Snapshot.Timestamp,
	}
	if err := target.RecoverFromSnapshot(meta, res.Snapshot.Payload); err != nil {
		return errors.Wrapf(err, "recovering %s", actorPath)
	}
	return nil
}
