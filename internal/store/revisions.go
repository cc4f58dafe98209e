package store

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/retrack-dev/engine/internal/retrackerr"
	"github.com/retrack-dev/engine/internal/types"
)

// InsertRevision stores a new revision in the per-tracker nested
// bucket, creating that bucket on first use. UUIDv7 ids sort
// chronologically, so ListRevisions can simply walk the bucket
// cursor in reverse to get newest-first order without a secondary index.
func (s *Store) InsertRevision(r *types.TrackerDataRevision) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		revisions := tx.Bucket([]byte(bucketRevisions))
		sub, err := revisions.CreateBucketIfNotExists(r.TrackerID[:])
		if err != nil {
			return errors.Wrap(err, "create tracker revision bucket")
		}
		encoded, err := json.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "marshal revision")
		}
		return sub.Put(r.ID[:], encoded)
	})
}

// ListRevisions returns a tracker's revisions newest-first.
func (s *Store) ListRevisions(trackerID uuid.UUID) ([]types.TrackerDataRevision, error) {
	var out []types.TrackerDataRevision
	err := s.db.View(func(tx *bbolt.Tx) error {
		revisions := tx.Bucket([]byte(bucketRevisions))
		sub := revisions.Bucket(trackerID[:])
		if sub == nil {
			return nil
		}
		c := sub.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r types.TrackerDataRevision
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrap(err, "unmarshal revision")
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRevision removes a single revision from a tracker's bucket.
func (s *Store) DeleteRevision(trackerID, revisionID uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		revisions := tx.Bucket([]byte(bucketRevisions))
		sub := revisions.Bucket(trackerID[:])
		if sub == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "revision %s not found", revisionID)
		}
		if sub.Get(revisionID[:]) == nil {
			return retrackerr.Newf(retrackerr.KindNotFound, "revision %s not found", revisionID)
		}
		return sub.Delete(revisionID[:])
	})
}

// ClearRevisions removes all of a tracker's revisions, leaving the
// tracker record itself intact.
func (s *Store) ClearRevisions(trackerID uuid.UUID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		revisions := tx.Bucket([]byte(bucketRevisions))
		if revisions.Bucket(trackerID[:]) == nil {
			return nil
		}
		return revisions.DeleteBucket(trackerID[:])
	})
}

// EnforceRevisionLimit trims a tracker's revision bucket down to the n
// newest entries (§4.1's ring-buffer retention: "the oldest revision
// is evicted once the configured limit is exceeded"). n<=0 is treated
// as "keep none."
func (s *Store) EnforceRevisionLimit(trackerID uuid.UUID, n int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		revisions := tx.Bucket([]byte(bucketRevisions))
		sub := revisions.Bucket(trackerID[:])
		if sub == nil {
			return nil
		}

		var ids [][]byte
		c := sub.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			cp := make([]byte, len(k))
			copy(cp, k)
			ids = append(ids, cp)
		}
		// Keys are UUIDv7 bytes, already in ascending chronological order.
		sort.Slice(ids, func(i, j int) bool { return string(ids[i]) < string(ids[j]) })

		if n < 0 {
			n = 0
		}
		excess := len(ids) - n
		for i := 0; i < excess; i++ {
			if err := sub.Delete(ids[i]); err != nil {
				return errors.Wrap(err, "evict oldest revision")
			}
		}
		return nil
	})
}
