package filter

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/AudiusProject/apps-sub003/internal/event"
)

// SQLFlagSource reads moderation flags from the identity users table.
type SQLFlagSource struct {
	db *sqlx.DB
}

// NewSQLFlagSource wraps a read-only handle to the identity database.
func NewSQLFlagSource(db *sqlx.DB) *SQLFlagSource {
	return &SQLFlagSource{db: db}
}

type flagRow struct {
	UserID       int64 `db:"user_id"`
	BlockedRelay bool  `db:"is_blocked_from_relay"`
	BlockedNotif bool  `db:"is_blocked_from_notifications"`
}

func (s *SQLFlagSource) Lookup(ctx context.Context, userIDs []int64) (map[int64]event.AbuseFlags, error) {
	if len(userIDs) == 0 {
		return map[int64]event.AbuseFlags{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT user_id, is_blocked_from_relay, is_blocked_from_notifications
		FROM users
		WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("build flag query: %w", err)
	}

	var rows []flagRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query abuse flags: %w", err)
	}

	out := make(map[int64]event.AbuseFlags, len(rows))
	for _, r := range rows {
		out[r.UserID] = event.AbuseFlags{
			BlockedFromRelay:         r.BlockedRelay,
			BlockedFromNotifications: r.BlockedNotif,
		}
	}
	return out, nil
}

// Memory is a FlagSource for tests.
type Memory map[int64]event.AbuseFlags

func (m Memory) Lookup(ctx context.Context, userIDs []int64) (map[int64]event.AbuseFlags, error) {
	return m, nil
}
