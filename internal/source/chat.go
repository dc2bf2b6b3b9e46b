package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/AudiusProject/apps-sub003/internal/event"
)

// ChatStore reads the relational chat tables owned by the upstream chat
// service. All access is read-only.
type ChatStore struct {
	db *sqlx.DB
}

// NewChatStore wraps an open handle to the chat database.
func NewChatStore(db *sqlx.DB) *ChatStore {
	return &ChatStore{db: db}
}

type chatMessageRow struct {
	ChatID    string `db:"chat_id"`
	MessageID string `db:"message_id"`
	Sender    int64  `db:"sender_user_id"`
	Receiver  int64  `db:"receiver_user_id"`
	CreatedAt int64  `db:"created_at"`
}

type chatReactionRow struct {
	ChatID    string `db:"chat_id"`
	MessageID string `db:"message_id"`
	Sender    int64  `db:"sender_user_id"`
	Receiver  int64  `db:"receiver_user_id"`
	Reaction  string `db:"reaction"`
	UpdatedAt int64  `db:"updated_at"`
}

// UnreadMessages returns messages created in (low, high] that their chat
// peers have not read (created after the member's last_active_at), ascending
// by creation time. A NULL last_active_at means the member never opened the
// chat, so everything is unread. Messages a user sent to themselves are
// excluded.
func (c *ChatStore) UnreadMessages(ctx context.Context, low, high time.Time) ([]event.ChatMessage, error) {
	var rows []chatMessageRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT chat_member.chat_id       AS chat_id,
		       chat_message.message_id   AS message_id,
		       chat_message.user_id      AS sender_user_id,
		       chat_member.user_id       AS receiver_user_id,
		       chat_message.created_at   AS created_at
		FROM chat_message
		JOIN chat_member ON chat_message.chat_id = chat_member.chat_id
		WHERE chat_message.created_at > MAX(COALESCE(chat_member.last_active_at, 0), ?)
		  AND chat_message.created_at <= ?
		  AND chat_message.user_id != chat_member.user_id
		ORDER BY chat_message.created_at ASC`,
		low.UnixNano(), high.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query unread messages: %w", err)
	}

	out := make([]event.ChatMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, event.ChatMessage{
			ChatID:    r.ChatID,
			MessageID: r.MessageID,
			Sender:    r.Sender,
			Receiver:  r.Receiver,
			Timestamp: time.Unix(0, r.CreatedAt).UTC(),
		})
	}
	return out, nil
}

// UnreadReactions returns reactions updated in (low, high] that the message
// author has not seen, ascending by update time.
func (c *ChatStore) UnreadReactions(ctx context.Context, low, high time.Time) ([]event.ChatReaction, error) {
	var rows []chatReactionRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT chat_member.chat_id                 AS chat_id,
		       chat_message_reactions.message_id   AS message_id,
		       chat_message_reactions.user_id      AS sender_user_id,
		       chat_message.user_id                AS receiver_user_id,
		       chat_message_reactions.reaction     AS reaction,
		       chat_message_reactions.updated_at   AS updated_at
		FROM chat_message_reactions
		JOIN chat_message ON chat_message.message_id = chat_message_reactions.message_id
		JOIN chat_member ON chat_member.chat_id = chat_message.chat_id
		             AND chat_member.user_id = chat_message.user_id
		WHERE chat_message_reactions.updated_at > MAX(COALESCE(chat_member.last_active_at, 0), ?)
		  AND chat_message_reactions.updated_at <= ?
		  AND chat_message_reactions.user_id != chat_member.user_id
		ORDER BY chat_message_reactions.updated_at ASC`,
		low.UnixNano(), high.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query unread reactions: %w", err)
	}

	out := make([]event.ChatReaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, event.ChatReaction{
			ChatID:    r.ChatID,
			MessageID: r.MessageID,
			Sender:    r.Sender,
			Receiver:  r.Receiver,
			Reaction:  r.Reaction,
			Timestamp: time.Unix(0, r.UpdatedAt).UTC(),
		})
	}
	return out, nil
}
