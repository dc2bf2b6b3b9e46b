package store

import (
	"fmt"
	"time"
)

// AcquireLock claims the named job lock for owner with a bounded lease. The
// claim succeeds when the lock is free, expired, or already held by the same
// owner (renewal). Returns false on contention; the caller backs off until
// the holder's lease expires.
func (s *Store) AcquireLock(name, owner string, lease time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(lease).UnixNano()

	res, err := s.db.Write.Exec(`
		INSERT INTO job_locks (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE job_locks.expires_at < ? OR job_locks.owner = excluded.owner`,
		name, owner, expires, now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ReleaseLock frees the named lock if owner still holds it. Releasing a lock
// taken over by another owner after lease expiry is a no-op.
func (s *Store) ReleaseLock(name, owner string) error {
	_, err := s.db.Write.Exec(
		"DELETE FROM job_locks WHERE name = ? AND owner = ?", name, owner)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
