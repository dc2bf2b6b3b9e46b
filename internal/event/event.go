// Package event defines the raw events the notification pipeline consumes.
// Events are immutable values produced by the source fetchers; everything
// downstream (filter, sequencer, persister) treats them as read-only.
package event

import (
	"encoding/json"
	"time"
)

// Kind identifies the source stream an event came from.
type Kind int

const (
	KindChainNotification Kind = iota
	KindChatMessage
	KindChatReaction
	KindChatBlast
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindChainNotification:
		return "chain_notification"
	case KindChatMessage:
		return "chat_message"
	case KindChatReaction:
		return "chat_reaction"
	case KindChatBlast:
		return "chat_blast"
	}
	return "unknown"
}

// Priority orders kinds for timestamp tie-breaks. Lower sorts first.
// The ordering is arbitrary but fixed; the sequencer only needs it to be
// deterministic so a retried cycle folds identically.
func (k Kind) Priority() int {
	return int(k)
}

// EntityType classifies the entity a chain notification refers to.
type EntityType string

const (
	EntityUser     EntityType = "user"
	EntityTrack    EntityType = "track"
	EntityPlaylist EntityType = "playlist"
	EntityAlbum    EntityType = "album"
)

// Entity is a typed reference to a platform object.
type Entity struct {
	Type EntityType `json:"type"`
	ID   int64      `json:"id"`
}

// Event is the closed set of raw notification-worthy events. Only the four
// concrete types in this package implement it.
type Event interface {
	Kind() Kind
	OccurredAt() time.Time
	InitiatorID() int64
	// Target returns the entity the event acts on, when it has one.
	Target() (Entity, bool)
}

// AbuseFlags mirrors the per-user moderation flags owned by the identity
// service. Read-only to this subsystem.
type AbuseFlags struct {
	BlockedFromRelay         bool
	BlockedFromNotifications bool
}

// Blocked reports whether a user with these flags may trigger notifications.
func (f AbuseFlags) Blocked() bool {
	return f.BlockedFromRelay || f.BlockedFromNotifications
}

// ChainNotification is an event indexed from the discovery feed, either the
// EVM-side feed (BlockOrSlot is a block number) or the solana feed
// (BlockOrSlot is a slot).
type ChainNotification struct {
	Type        Type
	BlockOrSlot int64
	Timestamp   time.Time
	Initiator   int64
	// Recipient is the user the notification is addressed to, already
	// resolved by the feed (e.g. the track owner for a repost).
	Recipient int64
	Entity    *Entity
	// Extra carries type-specific feed metadata verbatim into the
	// persisted payload.
	Extra json.RawMessage
}

func (n ChainNotification) Kind() Kind            { return KindChainNotification }
func (n ChainNotification) OccurredAt() time.Time { return n.Timestamp }
func (n ChainNotification) InitiatorID() int64    { return n.Initiator }

func (n ChainNotification) Target() (Entity, bool) {
	if n.Entity == nil {
		return Entity{}, false
	}
	return *n.Entity, true
}

// ChatMessage is a direct message another member of the chat has not read.
type ChatMessage struct {
	ChatID    string
	MessageID string
	Sender    int64
	Receiver  int64
	Timestamp time.Time
}

func (m ChatMessage) Kind() Kind             { return KindChatMessage }
func (m ChatMessage) OccurredAt() time.Time  { return m.Timestamp }
func (m ChatMessage) InitiatorID() int64     { return m.Sender }
func (m ChatMessage) Target() (Entity, bool) { return Entity{}, false }

// ChatReaction is a reaction to a message the message author has not seen.
type ChatReaction struct {
	ChatID    string
	MessageID string
	Sender    int64
	Receiver  int64
	Reaction  string
	Timestamp time.Time
}

func (r ChatReaction) Kind() Kind             { return KindChatReaction }
func (r ChatReaction) OccurredAt() time.Time  { return r.Timestamp }
func (r ChatReaction) InitiatorID() int64     { return r.Sender }
func (r ChatReaction) Target() (Entity, bool) { return Entity{}, false }

// ChatBlast is one (blast, recipient) pair resolved from a blast campaign's
// audience. The fetcher derives these fresh each cycle; they have no row of
// their own in the chat store.
type ChatBlast struct {
	BlastID   string
	ChatID    string
	Sender    int64
	Receiver  int64
	Timestamp time.Time
}

func (b ChatBlast) Kind() Kind             { return KindChatBlast }
func (b ChatBlast) OccurredAt() time.Time  { return b.Timestamp }
func (b ChatBlast) InitiatorID() int64     { return b.Sender }
func (b ChatBlast) Target() (Entity, bool) { return Entity{}, false }
