// Package store is the Data Store (C1): durable storage of trackers,
// data revisions, scheduler jobs and enqueued tasks. It generalizes
// the teacher's database.BoltDBClient — a bbolt wrapper with one
// bucket per concern and a distributed-lock CAS pattern — from a
// single jobs bucket into the five buckets spec.md §4.1 requires.
package store

import (
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const (
	bucketTrackers      = "trackers"
	bucketRevisions     = "revisions"      // nested: one sub-bucket per tracker id
	bucketSchedulerJobs = "scheduler_jobs"
	bucketJobOrder      = "scheduler_job_order"     // sequence(8-byte BE) -> job id, insertion order
	bucketJobOrderRev   = "scheduler_job_order_rev" // job id -> sequence(8-byte BE), for delete lookups
	bucketTasks         = "tasks"                   // key: scheduledAt(8-byte BE)||id, time ordered
	bucketLocks         = "locks"
)

// Store is the bbolt-backed Data Store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path and
// initializes all buckets used by the engine.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bbolt db at %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{
			bucketTrackers, bucketRevisions, bucketSchedulerJobs,
			bucketJobOrder, bucketJobOrderRev, bucketTasks, bucketLocks,
		} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize buckets")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
