package source_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/AudiusProject/apps-sub003/internal/source"
)

// Mirror of the chat tables this subsystem reads. Timestamps are unix nanos.
const chatSchema = `
	CREATE TABLE chat_member (
		chat_id        TEXT NOT NULL,
		user_id        INTEGER NOT NULL,
		last_active_at INTEGER
	);
	CREATE TABLE chat_message (
		message_id TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL,
		user_id    INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE chat_message_reactions (
		message_id TEXT NOT NULL,
		user_id    INTEGER NOT NULL,
		reaction   TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE chat_blast (
		blast_id              TEXT PRIMARY KEY,
		from_user_id          INTEGER NOT NULL,
		audience              TEXT NOT NULL,
		audience_content_type TEXT,
		audience_content_id   INTEGER,
		created_at            INTEGER NOT NULL
	);
	CREATE TABLE follows (
		follower_user_id INTEGER NOT NULL,
		followee_user_id INTEGER NOT NULL,
		is_delete        INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL
	);
	CREATE TABLE user_tips (
		sender_user_id   INTEGER NOT NULL,
		receiver_user_id INTEGER NOT NULL,
		created_at       INTEGER NOT NULL
	);
	CREATE TABLE tracks (
		track_id INTEGER PRIMARY KEY,
		owner_id INTEGER NOT NULL
	);
	CREATE TABLE remixes (
		parent_track_id INTEGER NOT NULL,
		child_track_id  INTEGER NOT NULL
	);
	CREATE TABLE usdc_purchases (
		buyer_user_id  INTEGER NOT NULL,
		seller_user_id INTEGER NOT NULL,
		content_type   TEXT NOT NULL,
		content_id     INTEGER NOT NULL,
		created_at     INTEGER NOT NULL
	);
`

func testChatStore(t *testing.T) (*source.ChatStore, *sqlx.DB) {
	t.Helper()
	db, err := sqlx.Open("sqlite3", filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open chat db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(chatSchema); err != nil {
		t.Fatalf("create chat schema: %v", err)
	}
	return source.NewChatStore(db), db
}

func ns(t time.Time) int64 { return t.UnixNano() }

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestUnreadMessagesWindow(t *testing.T) {
	c, db := testChatStore(t)
	ctx := context.Background()

	db.MustExec("INSERT INTO chat_member (chat_id, user_id, last_active_at) VALUES ('c1', 1, 0), ('c1', 2, 0)")
	// In window.
	db.MustExec("INSERT INTO chat_message VALUES ('m1', 'c1', 1, ?)", ns(base.Add(time.Minute)))
	// Below the low bound.
	db.MustExec("INSERT INTO chat_message VALUES ('m2', 'c1', 1, ?)", ns(base.Add(-time.Minute)))
	// Above the high bound (inside the safety delay).
	db.MustExec("INSERT INTO chat_message VALUES ('m3', 'c1', 1, ?)", ns(base.Add(time.Hour)))

	got, err := c.UnreadMessages(ctx, base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("UnreadMessages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("messages = %d, want 1", len(got))
	}
	if got[0].MessageID != "m1" || got[0].Sender != 1 || got[0].Receiver != 2 {
		t.Errorf("message = %+v", got[0])
	}
}

func TestUnreadMessagesRespectsLastActive(t *testing.T) {
	c, db := testChatStore(t)
	ctx := context.Background()

	// Receiver was active after the message landed: already read.
	db.MustExec("INSERT INTO chat_member (chat_id, user_id, last_active_at) VALUES ('c1', 1, 0), ('c1', 2, ?)",
		ns(base.Add(5*time.Minute)))
	db.MustExec("INSERT INTO chat_message VALUES ('m1', 'c1', 1, ?)", ns(base.Add(time.Minute)))

	got, err := c.UnreadMessages(ctx, base.Add(-time.Hour), base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("UnreadMessages: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("messages = %v, want none (receiver already active)", got)
	}
}

func TestUnreadMessagesNullLastActive(t *testing.T) {
	c, db := testChatStore(t)
	ctx := context.Background()

	// Receiver never opened the chat: last_active_at is NULL, everything in
	// the window is unread.
	db.MustExec("INSERT INTO chat_member (chat_id, user_id, last_active_at) VALUES ('c1', 1, 0), ('c1', 2, NULL)")
	db.MustExec("INSERT INTO chat_message VALUES ('m1', 'c1', 1, ?)", ns(base.Add(time.Minute)))

	got, err := c.UnreadMessages(ctx, base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("UnreadMessages: %v", err)
	}
	if len(got) != 1 || got[0].Receiver != 2 {
		t.Fatalf("messages = %v, want one message to receiver 2", got)
	}
}

func TestUnreadReactionsNullLastActive(t *testing.T) {
	c, db := testChatStore(t)
	ctx := context.Background()

	db.MustExec("INSERT INTO chat_member (chat_id, user_id, last_active_at) VALUES ('c1', 1, NULL), ('c1', 2, 0)")
	db.MustExec("INSERT INTO chat_message VALUES ('m1', 'c1', 1, ?)", ns(base))
	db.MustExec("INSERT INTO chat_message_reactions VALUES ('m1', 2, 'fire', ?)", ns(base.Add(time.Minute)))

	got, err := c.UnreadReactions(ctx, base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("UnreadReactions: %v", err)
	}
	if len(got) != 1 || got[0].Receiver != 1 {
		t.Fatalf("reactions = %v, want one reaction to author 1", got)
	}
}

func TestUnreadMessagesExcludesSender(t *testing.T) {
	c, db := testChatStore(t)
	ctx := context.Background()

	db.MustExec("INSERT INTO chat_member (chat_id, user_id, last_active_at) VALUES ('c1', 1, 0)")
	db.MustExec("INSERT INTO chat_message VALUES ('m1', 'c1', 1, ?)", ns(base.Add(time.Minute)))

	got, err := c.UnreadMessages(ctx, base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("UnreadMessages: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("sender notified about their own message: %v", got)
	}
}

func TestUnreadMessagesAscending(t *testing.T) {
	c, db := testChatStore(t)
	ctx := context.Background()

	db.MustExec("INSERT INTO chat_member (chat_id, user_id, last_active_at) VALUES ('c1', 1, 0), ('c1', 2, 0)")
	db.MustExec("INSERT INTO chat_message VALUES ('m2', 'c1', 1, ?)", ns(base.Add(2*time.Minute)))
	db.MustExec("INSERT INTO chat_message VALUES ('m1', 'c1', 1, ?)", ns(base.Add(time.Minute)))

	got, err := c.UnreadMessages(ctx, base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("UnreadMessages: %v", err)
	}
	if len(got) != 2 || got[0].MessageID != "m1" || got[1].MessageID != "m2" {
		t.Errorf("messages not ascending: %v", got)
	}
}

func TestUnreadReactions(t *testing.T) {
	c, db := testChatStore(t)
	ctx := context.Background()

	// User 1 authored m1; user 2 reacted to it.
	db.MustExec("INSERT INTO chat_member (chat_id, user_id, last_active_at) VALUES ('c1', 1, 0), ('c1', 2, 0)")
	db.MustExec("INSERT INTO chat_message VALUES ('m1', 'c1', 1, ?)", ns(base))
	db.MustExec("INSERT INTO chat_message_reactions VALUES ('m1', 2, 'fire', ?)", ns(base.Add(time.Minute)))
	// Self-reaction must not notify.
	db.MustExec("INSERT INTO chat_message_reactions VALUES ('m1', 1, 'heart', ?)", ns(base.Add(2*time.Minute)))

	got, err := c.UnreadReactions(ctx, base, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("UnreadReactions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("reactions = %d, want 1", len(got))
	}
	r := got[0]
	if r.Sender != 2 || r.Receiver != 1 || r.Reaction != "fire" || r.MessageID != "m1" {
		t.Errorf("reaction = %+v", r)
	}
}
