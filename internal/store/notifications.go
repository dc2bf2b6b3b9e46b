package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertNotificationTx writes one notification row inside the cycle
// transaction. Returns false when a row with the same id already exists,
// which is the no-op path for a replayed cycle.
func InsertNotificationTx(tx *sql.Tx, rec NotificationRecord) (bool, error) {
	recipients, err := json.Marshal(rec.Recipients)
	if err != nil {
		return false, fmt.Errorf("marshal recipients: %w", err)
	}
	payload := []byte("null")
	if len(rec.Payload) > 0 {
		payload = rec.Payload
	}

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO notifications
			(id, type, source, block_or_slot, group_key, recipients, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.Source, rec.BlockOrSlot, rec.GroupKey,
		string(recipients), string(payload), rec.OccurredAt.UTC().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("insert notification %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// MaxBlockOrSlot returns the highest block/slot number persisted for a
// source, or -1 when the source has no rows. Used as a belt-and-suspenders
// dedup bound on top of the cursor window.
func (s *Store) MaxBlockOrSlot(source string) (int64, error) {
	var max sql.NullInt64
	err := s.db.Read.QueryRow(
		"SELECT MAX(block_or_slot) FROM notifications WHERE source = ?", source,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max block_or_slot for %s: %w", source, err)
	}
	if !max.Valid {
		return -1, nil
	}
	return max.Int64, nil
}

// CountNotifications returns the total number of persisted notifications.
func (s *Store) CountNotifications() (int64, error) {
	var n int64
	if err := s.db.Read.QueryRow("SELECT COUNT(*) FROM notifications").Scan(&n); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}

// RecentNotifications returns the newest rows by occurrence time.
func (s *Store) RecentNotifications(limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Read.Query(`
		SELECT id, type, source, block_or_slot, group_key, recipients, payload, occurred_at, created_at
		FROM notifications
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRecord
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecipientsSince returns the distinct recipient user ids of notifications
// that occurred strictly after sinceNs. Feeds the email digest.
func (s *Store) RecipientsSince(sinceNs int64) ([]int64, error) {
	rows, err := s.db.Read.Query(
		"SELECT recipients FROM notifications WHERE occurred_at > ? ORDER BY occurred_at ASC", sinceNs)
	if err != nil {
		return nil, fmt.Errorf("query recipients since: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]struct{})
	var out []int64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ids []int64
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (NotificationRecord, error) {
	var rec NotificationRecord
	var recipients, payload string
	var occurredNs int64
	err := row.Scan(&rec.ID, &rec.Type, &rec.Source, &rec.BlockOrSlot,
		&rec.GroupKey, &recipients, &payload, &occurredNs, &rec.CreatedAt)
	if err != nil {
		return rec, fmt.Errorf("scan notification: %w", err)
	}
	if err := json.Unmarshal([]byte(recipients), &rec.Recipients); err != nil {
		return rec, fmt.Errorf("decode recipients: %w", err)
	}
	if payload != "" && payload != "null" {
		rec.Payload = json.RawMessage(payload)
	}
	rec.OccurredAt = nsToTime(occurredNs)
	return rec, nil
}
