package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordRun upserts the last outcome of a job family. Success clears the
// error and stamps last_success_at; failure keeps the previous success time.
func (s *Store) RecordRun(family string, runErr error) error {
	now := time.Now().UTC().UnixNano()
	var err error
	if runErr == nil {
		_, err = s.db.Write.Exec(`
			INSERT INTO job_runs (family, last_success_at, last_error, updated_at)
			VALUES (?, ?, '', ?)
			ON CONFLICT(family) DO UPDATE SET
				last_success_at = excluded.last_success_at,
				last_error = '',
				updated_at = excluded.updated_at`,
			family, now, now)
	} else {
		_, err = s.db.Write.Exec(`
			INSERT INTO job_runs (family, last_success_at, last_error, updated_at)
			VALUES (?, NULL, ?, ?)
			ON CONFLICT(family) DO UPDATE SET
				last_error = excluded.last_error,
				updated_at = excluded.updated_at`,
			family, runErr.Error(), now)
	}
	if err != nil {
		return fmt.Errorf("record run %s: %w", family, err)
	}
	return nil
}

// JobRuns lists the recorded status of every job family.
func (s *Store) JobRuns() ([]JobRun, error) {
	rows, err := s.db.Read.Query(
		"SELECT family, last_success_at, last_error, updated_at FROM job_runs ORDER BY family")
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var run JobRun
		var successNs sql.NullInt64
		var updatedNs int64
		if err := rows.Scan(&run.Family, &successNs, &run.LastError, &updatedNs); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		if successNs.Valid {
			t := nsToTime(successNs.Int64)
			run.LastSuccessAt = &t
		}
		run.UpdatedAt = nsToTime(updatedNs)
		out = append(out, run)
	}
	return out, rows.Err()
}

// MarkEmailPromptTx records that a user received the one-shot download
// prompt email. Returns false when the user was already prompted.
func MarkEmailPromptTx(tx *sql.Tx, userID int64) (bool, error) {
	res, err := tx.Exec(
		"INSERT OR IGNORE INTO email_prompts (user_id, sent_at) VALUES (?, ?)",
		userID, time.Now().UTC().UnixNano())
	if err != nil {
		return false, fmt.Errorf("mark email prompt %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
