package store

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/types"
)

// taskKey composes a scheduledAt(8-byte big-endian unix nano)||id key
// so tasks sort chronologically under a plain bucket cursor, letting
// StreamTasksDue range-scan without a secondary index.
func taskKey(scheduledAt time.Time, id uuid.UUID) []byte {
	key := make([]byte, 8+16)
	binary.BigEndian.PutUint64(key[:8], uint64(scheduledAt.UnixNano()))
	copy(key[8:], id[:])
	return key
}

// ScheduleTask enqueues a task for later draining by the Task-run job.
func (s *Store) ScheduleTask(t *types.Task) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTasks))
		encoded, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "marshal task")
		}
		return b.Put(taskKey(t.ScheduledAt, t.ID), encoded)
	})
}

// StreamTasksDue returns up to limit tasks whose scheduledAt is at or
// before beforeAt, oldest first (§4.6's Task-run job drains tasks in
// scheduled order, batched by the configured task batch size).
func (s *Store) StreamTasksDue(beforeAt time.Time, limit int) ([]types.Task, error) {
	var out []types.Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTasks))
		cutoff := make([]byte, 8)
		binary.BigEndian.PutUint64(cutoff, uint64(beforeAt.UnixNano()))

		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if len(k) < 8 || string(k[:8]) > string(cutoff) {
				break
			}
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return errors.Wrap(err, "unmarshal task")
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask fetches a task by id, scanning the bucket since the primary
// key is scheduledAt-prefixed rather than id-prefixed.
func (s *Store) GetTask(id uuid.UUID) (*types.Task, error) {
	var found *types.Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTasks))
		return b.ForEach(func(k, v []byte) error {
			if found != nil || len(k) < 24 {
				return nil
			}
			var taskID uuid.UUID
			copy(taskID[:], k[8:])
			if taskID != id {
				return nil
			}
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			found = &t
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, retrackerr.Newf(retrackerr.KindNotFound, "task %s not found", id)
	}
	return found, nil
}

// DeleteTask removes a task, e.g. after successful dispatch.
func (s *Store) DeleteTask(id uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTasks))
		var key []byte
		err := b.ForEach(func(k, _ []byte) error {
			if key != nil || len(k) < 24 {
				return nil
			}
			var taskID uuid.UUID
			copy(taskID[:], k[8:])
			if taskID == id {
				key = append([]byte(nil), k...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if key == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "task %s not found", id)
		}
		return b.Delete(key)
	})
}
