package store

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/types"
)

// UpsertTracker inserts or replaces a tracker unconditionally; it never
// reports a Conflict (InsertTracker is the conflict-checking insert).
// Tracker Admin uses it for updates, after it has loaded and mutated
// the existing record.
func (s *Store) UpsertTracker(t *types.Tracker) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrackers))
		encoded, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "marshal tracker")
		}
		return b.Put(t.ID[:], encoded)
	})
}

// InsertTracker inserts a brand new tracker, reporting a Conflict
// error if the id is already present (§4.1: "Unique-violation on
// tracker insert reports a distinct error kind").
func (s *Store) InsertTracker(t *types.Tracker) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrackers))
		if b.Get(t.ID[:]) != nil {
			return retrackerr.Newf(retrackerr.KindConflict, "tracker %s already exists", t.ID)
		}
		encoded, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "marshal tracker")
		}
		return b.Put(t.ID[:], encoded)
	})
}

// GetTracker fetches a tracker by id.
func (s *Store) GetTracker(id uuid.UUID) (*types.Tracker, error) {
	var t types.Tracker
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrackers))
		v := b.Get(id[:])
		if v == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "tracker %s not found", id)
		}
		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTrackers returns all trackers, optionally filtered by a
// superset/AND match over tags (§4.1).
func (s *Store) ListTrackers(tags []string) ([]types.Tracker, error) {
	var out []types.Tracker
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrackers))
		return b.ForEach(func(_, v []byte) error {
			var t types.Tracker
			if err := json.Unmarshal(v, &t); err != nil {
				return errors.Wrap(err, "unmarshal tracker")
			}
			if len(tags) == 0 || t.HasAllTags(tags) {
				out = append(out, t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTracker removes a tracker and cascades deletion of its
// revisions within one transaction (§3 "Lifecycles").
func (s *Store) DeleteTracker(id uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		trackers := tx.Bucket([]byte(bucketTrackers))
		if trackers.Get(id[:]) == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "tracker %s not found", id)
		}
		if err := trackers.Delete(id[:]); err != nil {
			return errors.Wrap(err, "delete tracker")
		}
		revisions := tx.Bucket([]byte(bucketRevisions))
		if sub := revisions.Bucket(id[:]); sub != nil {
			if err := revisions.DeleteBucket(id[:]); err != nil {
				return errors.Wrap(err, "cascade delete revisions")
			}
		}
		return nil
	})
}

// DeleteTrackersByTag removes every tracker carrying tag, cascading
// revision deletion for each, and returns the count removed.
func (s *Store) DeleteTrackersByTag(tag string) (int, error) {
	var ids []uuid.UUID
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrackers))
		return b.ForEach(func(k, v []byte) error {
			var t types.Tracker
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.HasTag(tag) {
				ids = append(ids, t.ID)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.DeleteTracker(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// UpdateTrackerJobBinding sets or clears (nil) a tracker's job_id.
func (s *Store) UpdateTrackerJobBinding(id uuid.UUID, jobID *uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrackers))
		v := b.Get(id[:])
		if v == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "tracker %s not found", id)
		}
		var t types.Tracker
		if err := json.Unmarshal(v, &t); err != nil {
			return errors.Wrap(err, "unmarshal tracker")
		}
		t.JobID = jobID
		encoded, err := json.Marshal(&t)
		if err != nil {
			return errors.Wrap(err, "marshal tracker")
		}
		return b.Put(id[:], encoded)
	})
}

// TrackersToSchedule returns trackers eligible for a new Run job
// binding: enabled, revisions>0, job config present, and (job_id nil
// or no corresponding job row) — §4.1.
func (s *Store) TrackersToSchedule() ([]types.Tracker, error) {
	var out []types.Tracker
	err := s.db.View(func(tx *bbolt.Tx) error {
		trackers := tx.Bucket([]byte(bucketTrackers))
		jobs := tx.Bucket([]byte(bucketSchedulerJobs))
		return trackers.ForEach(func(_, v []byte) error {
			var t types.Tracker
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if !t.Enabled || t.Config.Revisions <= 0 || t.Config.Job == nil {
				return nil
			}
			if t.JobID != nil && jobs.Get(t.JobID[:]) != nil {
				return nil
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TrackerByJobID finds the tracker currently bound to jobID.
func (s *Store) TrackerByJobID(jobID uuid.UUID) (*types.Tracker, error) {
	var found *types.Tracker
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTrackers))
		return b.ForEach(func(_, v []byte) error {
			if found != nil {
				return nil
			}
			var t types.Tracker
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.JobID != nil && *t.JobID == jobID {
				cp := t
				found = &cp
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, retrackerr.Newf(retrackerr.KindNotFound, "no tracker bound to job %s", jobID)
	}
	return found, nil
}
