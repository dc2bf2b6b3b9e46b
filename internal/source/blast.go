package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AudiusProject/apps-sub003/internal/event"
)

// Blast audience predicates, as stored in chat_blast.audience.
const (
	AudienceFollowers = "follower_audience"
	AudienceTippers   = "tipper_audience"
	AudienceRemixers  = "remixer_audience"
	AudienceCustomers = "customer_audience"
)

// BlastPage is one page of resolved blast recipients plus the advanced
// compound cursor. When Advanced is false the page was empty and the stored
// cursor pair must be left untouched.
type BlastPage struct {
	Events   []event.ChatBlast
	BlastID  string
	UserID   int64
	Advanced bool
}

type blastRow struct {
	BlastID   string `db:"blast_id"`
	Sender    int64  `db:"sender_user_id"`
	Receiver  int64  `db:"receiver_user_id"`
	CreatedAt int64  `db:"created_at"`
}

// Audience resolution: union the four predicates against the blast row, then
// drop recipients who already share a chat with the sender. Recipients are
// paged ascending by user id because blasts have no per-recipient rows and
// no timestamp ordering of their own.
const blastAudienceQuery = `
	WITH blast AS (
		SELECT * FROM chat_blast WHERE %s
	),
	aud AS (
		SELECT blast.blast_id AS blast_id, follows.follower_user_id AS to_user_id
		FROM follows
		JOIN blast
		  ON blast.audience = 'follower_audience'
		 AND follows.followee_user_id = blast.from_user_id
		 AND follows.is_delete = 0
		 AND follows.created_at < blast.created_at

		UNION

		SELECT blast.blast_id, tip.sender_user_id
		FROM user_tips tip
		JOIN blast
		  ON blast.audience = 'tipper_audience'
		 AND tip.receiver_user_id = blast.from_user_id
		 AND tip.created_at < blast.created_at

		UNION

		SELECT blast.blast_id, t.owner_id
		FROM tracks t
		JOIN remixes ON remixes.child_track_id = t.track_id
		JOIN tracks og ON remixes.parent_track_id = og.track_id
		JOIN blast
		  ON blast.audience = 'remixer_audience'
		 AND og.owner_id = blast.from_user_id
		 AND (
			blast.audience_content_id IS NULL
			OR (
				blast.audience_content_type = 'track'
				AND blast.audience_content_id = og.track_id
			)
		 )

		UNION

		SELECT blast.blast_id, p.buyer_user_id
		FROM usdc_purchases p
		JOIN blast
		  ON blast.audience = 'customer_audience'
		 AND p.seller_user_id = blast.from_user_id
		 AND (
			blast.audience_content_id IS NULL
			OR (
				blast.audience_content_type = p.content_type
				AND blast.audience_content_id = p.content_id
			)
		 )
	),
	targ AS (
		SELECT DISTINCT
			aud.blast_id,
			blast.from_user_id,
			aud.to_user_id,
			blast.created_at
		FROM blast
		JOIN aud ON aud.blast_id = blast.blast_id
		LEFT JOIN chat_member member_a ON member_a.user_id = blast.from_user_id
		LEFT JOIN chat_member member_b ON member_b.user_id = aud.to_user_id
		                              AND member_b.chat_id = member_a.chat_id
		WHERE member_b.chat_id IS NULL
		  AND (%s)
		ORDER BY aud.to_user_id ASC
		LIMIT ?
	)
	SELECT blast_id, from_user_id AS sender_user_id, to_user_id AS receiver_user_id, created_at FROM targ`

// NewBlasts resolves the next page of blast recipients using the compound
// (blastID, userID) cursor. The current blast is paged with to_user_id >
// userID; when it is exhausted the fetch advances to the next blast by
// creation time and restarts from that blast's first recipient. The cursor
// prefers skipping a recipient over duplicating a notification.
func (c *ChatStore) NewBlasts(ctx context.Context, blastID string, userID int64, pageSize int) (BlastPage, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	var rows []blastRow
	if blastID != "" {
		query := fmt.Sprintf(blastAudienceQuery, "chat_blast.blast_id = ?", "to_user_id > ?")
		if err := c.db.SelectContext(ctx, &rows, query, blastID, userID, pageSize); err != nil {
			return BlastPage{}, fmt.Errorf("query blast page: %w", err)
		}
	}

	// Current blast exhausted (or first run): advance to the next blast by
	// creation time with no user id condition. A cursor pointing at a blast
	// that no longer exists falls back to epoch, which is safe because blast
	// notification ids are idempotent.
	if len(rows) == 0 {
		var sinceNs int64
		if blastID != "" {
			err := c.db.GetContext(ctx, &sinceNs,
				"SELECT created_at FROM chat_blast WHERE blast_id = ?", blastID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return BlastPage{}, fmt.Errorf("look up blast %s: %w", blastID, err)
			}
		}
		query := fmt.Sprintf(blastAudienceQuery,
			"chat_blast.created_at > ? ORDER BY chat_blast.created_at ASC LIMIT 1", "1=1")
		if err := c.db.SelectContext(ctx, &rows, query, sinceNs, pageSize); err != nil {
			return BlastPage{}, fmt.Errorf("query next blast: %w", err)
		}
	}

	if len(rows) == 0 {
		return BlastPage{BlastID: blastID, UserID: userID}, nil
	}

	events := make([]event.ChatBlast, 0, len(rows))
	for _, r := range rows {
		events = append(events, event.ChatBlast{
			BlastID:   r.BlastID,
			ChatID:    PendingChatID(r.Sender, r.Receiver),
			Sender:    r.Sender,
			Receiver:  r.Receiver,
			Timestamp: time.Unix(0, r.CreatedAt).UTC(),
		})
	}

	return BlastPage{
		Events:   events,
		BlastID:  rows[0].BlastID,
		UserID:   rows[len(rows)-1].Receiver,
		Advanced: true,
	}, nil
}

// PendingChatID derives the deterministic id of the one-on-one chat a blast
// message will land in, used for deep linking before the chat exists.
func PendingChatID(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("chat:%d:%d", a, b)
}
