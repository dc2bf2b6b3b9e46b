package store

import (
	"database/sql"
	"fmt"
)

// EnqueueDeliveryTx appends an outbound delivery job inside the cycle
// transaction. A rolled-back cycle leaves no queue entries behind.
func EnqueueDeliveryTx(tx *sql.Tx, notificationID, channel string, payload []byte) error {
	var p any
	if len(payload) > 0 {
		p = string(payload)
	}
	_, err := tx.Exec(
		"INSERT INTO delivery_jobs (notification_id, channel, payload) VALUES (?, ?, ?)",
		notificationID, channel, p,
	)
	if err != nil {
		return fmt.Errorf("enqueue delivery for %s: %w", notificationID, err)
	}
	return nil
}

// NextDeliveries returns up to limit queued jobs for a channel in FIFO order.
func (s *Store) NextDeliveries(channel string, limit int) ([]DeliveryJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Read.Query(`
		SELECT id, notification_id, channel, COALESCE(payload, '')
		FROM delivery_jobs
		WHERE channel = ?
		ORDER BY id ASC
		LIMIT ?`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryJob
	for rows.Next() {
		var job DeliveryJob
		var payload string
		if err := rows.Scan(&job.ID, &job.NotificationID, &job.Channel, &payload); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		if payload != "" {
			job.Payload = []byte(payload)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// DeleteDelivery removes a job once the transport accepted it, or once it is
// dropped after a transport failure (delivery retries live upstream).
func (s *Store) DeleteDelivery(id int64) error {
	if _, err := s.db.Write.Exec("DELETE FROM delivery_jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete delivery %d: %w", id, err)
	}
	return nil
}

// PendingDeliveries counts queued jobs per channel.
func (s *Store) PendingDeliveries() (map[string]int64, error) {
	rows, err := s.db.Read.Query(
		"SELECT channel, COUNT(*) FROM delivery_jobs GROUP BY channel")
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var channel string
		var n int64
		if err := rows.Scan(&channel, &n); err != nil {
			return nil, err
		}
		out[channel] = n
	}
	return out, rows.Err()
}
