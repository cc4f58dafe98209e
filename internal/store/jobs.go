package store

import (
	"encoding/binary"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/types"
)

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// InsertSchedulerJob persists a new scheduler job and records its
// insertion-order position via bucketJobOrder's NextSequence, so
// StreamSchedulerJobs can walk jobs in the order they were created —
// the teacher's database.BoltDBClient relies on the same
// NextSequence-keyed auxiliary bucket trick for its single jobs bucket.
func (s *Store) InsertSchedulerJob(j *types.SchedulerJob) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketSchedulerJobs))
		if jobs.Get(j.ID[:]) != nil {
			return retrackerr.Newf(retrackerr.KindConflict, "scheduler job %s already exists", j.ID)
		}
		encoded, err := json.Marshal(j)
		if err != nil {
			return errors.Wrap(err, "marshal scheduler job")
		}
		if err := jobs.Put(j.ID[:], encoded); err != nil {
			return errors.Wrap(err, "put scheduler job")
		}

		order := tx.Bucket([]byte(bucketJobOrder))
		orderRev := tx.Bucket([]byte(bucketJobOrderRev))
		seq, err := order.NextSequence()
		if err != nil {
			return errors.Wrap(err, "next job order sequence")
		}
		key := seqKey(seq)
		if err := order.Put(key, j.ID[:]); err != nil {
			return errors.Wrap(err, "put job order entry")
		}
		return orderRev.Put(j.ID[:], key)
	})
}

// GetSchedulerJob fetches a scheduler job by id.
func (s *Store) GetSchedulerJob(id uuid.UUID) (*types.SchedulerJob, error) {
	var j types.SchedulerJob
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSchedulerJobs))
		v := b.Get(id[:])
		if v == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "scheduler job %s not found", id)
		}
		return json.Unmarshal(v, &j)
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateSchedulerJob replaces an existing job record in place, without
// touching its insertion-order position.
func (s *Store) UpdateSchedulerJob(j *types.SchedulerJob) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketSchedulerJobs))
		if jobs.Get(j.ID[:]) == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "scheduler job %s not found", j.ID)
		}
		encoded, err := json.Marshal(j)
		if err != nil {
			return errors.Wrap(err, "marshal scheduler job")
		}
		return jobs.Put(j.ID[:], encoded)
	})
}

// DeleteSchedulerJob removes a job record and its order-index entries.
func (s *Store) DeleteSchedulerJob(id uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(bucketSchedulerJobs))
		if jobs.Get(id[:]) == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "scheduler job %s not found", id)
		}
		if err := jobs.Delete(id[:]); err != nil {
			return errors.Wrap(err, "delete scheduler job")
		}

		orderRev := tx.Bucket([]byte(bucketJobOrderRev))
		if key := orderRev.Get(id[:]); key != nil {
			order := tx.Bucket([]byte(bucketJobOrder))
			if err := order.Delete(key); err != nil {
				return errors.Wrap(err, "delete job order entry")
			}
			if err := orderRev.Delete(id[:]); err != nil {
				return errors.Wrap(err, "delete job order reverse entry")
			}
		}
		return nil
	})
}

// StreamSchedulerJobs returns every scheduler job in ascending
// insertion order (§4.6: jobs are resumed on startup in the order
// they were originally scheduled).
func (s *Store) StreamSchedulerJobs() ([]types.SchedulerJob, error) {
	var out []types.SchedulerJob
	err := s.db.View(func(tx *bbolt.Tx) error {
		order := tx.Bucket([]byte(bucketJobOrder))
		jobs := tx.Bucket([]byte(bucketSchedulerJobs))
		c := order.Cursor()
		for k, jobID := c.First(); k != nil; k, jobID = c.Next() {
			v := jobs.Get(jobID)
			if v == nil {
				// Order entry outlived its job row; skip rather than fail
				// the whole stream.
				continue
			}
			var j types.SchedulerJob
			if err := json.Unmarshal(v, &j); err != nil {
				return errors.Wrap(err, "unmarshal scheduler job")
			}
			out = append(out, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
