package digest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/AudiusProject/apps-sub003/internal/dispatch"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

// IdentitySource lists users eligible for the download-prompt email.
type IdentitySource interface {
	PromptCandidates(ctx context.Context, activeSince time.Time, limit int) ([]int64, error)
}

// SQLIdentitySource reads candidates from the identity users table.
type SQLIdentitySource struct {
	db *sqlx.DB
}

// NewSQLIdentitySource wraps a read-only handle to the identity database.
func NewSQLIdentitySource(db *sqlx.DB) *SQLIdentitySource {
	return &SQLIdentitySource{db: db}
}

// PromptCandidates returns users recently active on web who have never
// installed the app, ascending by user id for a stable batch order.
func (s *SQLIdentitySource) PromptCandidates(ctx context.Context, activeSince time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT user_id FROM users
		WHERE last_seen_web_at > ?
		  AND has_downloaded_app = 0
		ORDER BY user_id ASC
		LIMIT ?`,
		activeSince.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("query prompt candidates: %w", err)
	}
	return ids, nil
}

// DownloadPrompt sends each eligible user a single email nudging them to
// install the app. The email_prompts table makes the send one-shot; a user
// who already got one is skipped forever.
type DownloadPrompt struct {
	Store      *store.Store
	Identity   IdentitySource
	Dispatcher *dispatch.Dispatcher
	// ActiveWindow bounds how far back web activity counts as recent.
	ActiveWindow time.Duration
	BatchSize    int

	now func() time.Time
}

func (p *DownloadPrompt) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now().UTC()
}

// Cycle marks and queues prompt emails for one batch of candidates.
func (p *DownloadPrompt) Cycle(ctx context.Context) error {
	now := p.clock()
	window := p.ActiveWindow
	if window == 0 {
		window = 7 * 24 * time.Hour
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = 500
	}

	candidates, err := p.Identity.PromptCandidates(ctx, now.Add(-window), batch)
	if err != nil {
		return fmt.Errorf("download prompt cycle: %w", err)
	}

	queued := 0
	if len(candidates) > 0 {
		err = p.Store.ExecuteTx(func(tx *sql.Tx) error {
			for _, userID := range candidates {
				fresh, err := store.MarkEmailPromptTx(tx, userID)
				if err != nil {
					return err
				}
				if !fresh {
					continue
				}
				payload, err := json.Marshal(map[string]any{"user_id": userID})
				if err != nil {
					return fmt.Errorf("marshal prompt payload: %w", err)
				}
				rec := store.NotificationRecord{
					ID:         store.NotificationID("download_app", fmt.Sprintf("download_app:%d", userID), []int64{userID}, 0),
					Type:       "download_app",
					Source:     store.SourceEmail,
					GroupKey:   fmt.Sprintf("download_app:%d", userID),
					Recipients: []int64{userID},
					Payload:    payload,
					OccurredAt: now,
				}
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
			return fmt.Errorf("download prompt cycle: %w", err)
		}
	}

	if _, err := p.Dispatcher.Drain(ctx, store.ChannelEmail); err != nil {
		slog.Error("drain prompt emails failed", "error", err)
	}

	slog.Info("download prompt cycle complete",
		"candidates", len(candidates), "queued", queued)
	return nil
}
