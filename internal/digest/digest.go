// Package digest implements the periodic email jobs: the notification digest
// and the one-shot download-prompt email. Both produce rows through the same
// outbox the realtime pipeline uses, so delivery semantics are identical.
package digest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/AudiusProject/apps-sub003/internal/cursor"
	"github.com/AudiusProject/apps-sub003/internal/dispatch"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

// Digest batches each user's recent notifications into one summary email.
type Digest struct {
	Store      *store.Store
	Cursors    cursor.Store
	Dispatcher *dispatch.Dispatcher
	// Frequency is the digest period, also used as the lookback window on
	// the very first run.
	Frequency time.Duration

	now func() time.Time
}

func (d *Digest) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now().UTC()
}

// Cycle finds every user who received notifications since the last digest
// mark and queues one digest email per user. The mark advances only after
// the queue rows are committed.
func (d *Digest) Cycle(ctx context.Context) error {
	now := d.clock()
	frequency := d.Frequency
	if frequency == 0 {
		frequency = 24 * time.Hour
	}

	last, err := d.Cursors.GetTime(ctx, cursor.KeyLastEmailDigest)
	if err != nil {
		return fmt.Errorf("digest cycle: %w", err)
	}
	if last.IsZero() {
		last = now.Add(-frequency)
	}
	if now.Sub(last) < frequency {
		slog.Debug("digest not due", "last", last, "frequency", frequency)
		return nil
	}

	recipients, err := d.Store.RecipientsSince(last.UnixNano())
	if err != nil {
		return fmt.Errorf("digest cycle: %w", err)
	}

	records := make([]store.NotificationRecord, 0, len(recipients))
	bucket := now.Format("20060102")
	for _, userID := range recipients {
		payload, err := json.Marshal(map[string]any{
			"user_id": userID,
			"since":   last.Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("digest cycle: marshal payload: %w", err)
		}
		// The id is derived from the day bucket, not the wall clock, so a
		// cycle replayed after a lost cursor write inserts nothing new.
		records = append(records, store.NotificationRecord{
			ID:         store.NotificationID("digest", fmt.Sprintf("digest:%d:%s", userID, bucket), []int64{userID}, 0),
			Type:       "digest",
			Source:     store.SourceEmail,
			GroupKey:   fmt.Sprintf("digest:%d:%s", userID, bucket),
			Recipients: []int64{userID},
			Payload:    payload,
			OccurredAt: now,
		})
	}

	queued := 0
	if len(records) > 0 {
		err = d.Store.ExecuteTx(func(tx *sql.Tx) error {
			for _, rec := range records {
				ok, err := store.InsertNotificationTx(tx, rec)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				queued++
				envelope, err := store.DeliveryPayload(rec)
				if err != nil {
					return err
				}
				if err := store.EnqueueDeliveryTx(tx, rec.ID, store.ChannelEmail, envelope); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("digest cycle: %w", err)
		}
	}

	if err := d.Cursors.SetTime(ctx, cursor.KeyLastEmailDigest, now); err != nil {
		slog.Error("advance digest cursor failed", "error", err)
	}

	if _, err := d.Dispatcher.Drain(ctx, store.ChannelEmail); err != nil {
		slog.Error("drain digest emails failed", "error", err)
	}

	slog.Info("digest cycle complete", "recipients", len(recipients), "queued", queued)
	return nil
}
