package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// lockExpiryTime bounds how long a lock survives without renewal
// before another instance is allowed to steal it — generalized from
// the teacher's database.BoltDBClient lock bucket, which guards a
// single job's run against concurrent schedulers the same way the
// Scheduler Core guards a tracker's Run job CAS (§4.6).
const lockExpiryTime = 5 * time.Minute

func parseLockInfo(lockData []byte) (instanceID string, lockedAt time.Time, err error) {
	parts := strings.Split(string(lockData), ":")
	if len(parts) != 2 {
		return "", time.Time{}, fmt.Errorf("malformed lock info: expected format instanceID:timestamp")
	}
	instanceID = parts[0]
	lockedAtNano, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid timestamp in lock info: %w", err)
	}
	return instanceID, time.Unix(0, lockedAtNano), nil
}

func formatLockInfo(instanceID string) string {
	return fmt.Sprintf("%s:%d", instanceID, time.Now().UnixNano())
}

// AcquireLock attempts a compare-and-swap style lock acquisition over
// key, scoped to instanceID. It succeeds if no lock exists, the lock
// is already held by instanceID, or the held lock has expired.
func (s *Store) AcquireLock(key, instanceID string) (bool, error) {
	var locked bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLocks))
		lockKey := []byte(key)
		current := b.Get(lockKey)

		if current == nil {
			locked = true
			return errors.Wrap(b.Put(lockKey, []byte(formatLockInfo(instanceID))), "put lock")
		}

		heldBy, lockedAt, err := parseLockInfo(current)
		if err != nil {
			return errors.Wrap(err, "parse existing lock")
		}

		if heldBy == instanceID || time.Since(lockedAt) > lockExpiryTime {
			locked = true
			return errors.Wrap(b.Put(lockKey, []byte(formatLockInfo(instanceID))), "re-acquire lock")
		}

		locked = false
		return nil
	})
	if err != nil {
		return false, err
	}
	return locked, nil
}

// ReleaseLock releases key if currently held by instanceID.
func (s *Store) ReleaseLock(key, instanceID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLocks))
		lockKey := []byte(key)
		current := b.Get(lockKey)
		if current == nil {
			return nil
		}

		heldBy, _, err := parseLockInfo(current)
		if err != nil {
			return errors.Wrap(b.Delete(lockKey), "delete malformed lock")
		}
		if heldBy == instanceID {
			return errors.Wrap(b.Delete(lockKey), "delete lock")
		}
		return nil
	})
}

// CleanupExpiredLocks removes every lock past lockExpiryTime and
// returns the count removed.
func (s *Store) CleanupExpiredLocks() (int, error) {
	cleaned := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLocks))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			_, lockedAt, err := parseLockInfo(v)
			if err != nil {
				if err := b.Delete(k); err == nil {
					cleaned++
				}
				continue
			}
			if time.Since(lockedAt) > lockExpiryTime {
				if err := b.Delete(k); err == nil {
					cleaned++
				}
			}
		}
		return nil
	})
	return cleaned, err
}
