package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event sources. Each pipeline family writes rows under exactly one source,
// which scopes the high-water-mark dedup check.
const (
	SourceChain  = "chain"
	SourceSolana = "solana"
	SourceDM     = "dm"
	SourceEmail  = "email"
)

// Delivery channels.
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// NotificationRecord is a persisted, grouped notification row. Several raw
// events may fold into one record; Recipients and Payload carry the fold.
type NotificationRecord struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	BlockOrSlot int64           `json:"block_or_slot"`
	GroupKey    string          `json:"group_key"`
	Recipients  []int64         `json:"recipients"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

// DeliveryJob is one queued unit of outbound delivery. Rows are consumed in
// FIFO order per channel and deleted once the transport accepts them.
type DeliveryJob struct {
	ID             int64           `json:"id"`
	NotificationID string          `json:"notification_id"`
	Channel        string          `json:"channel"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// DeliveryPayload builds the outbox envelope for a record. Renderers need
// the type and recipient list alongside the notification payload, and the
// notification row itself may be gone by the time a requeued job renders.
func DeliveryPayload(rec NotificationRecord) ([]byte, error) {
	env := map[string]any{
		"type":       rec.Type,
		"recipients": rec.Recipients,
	}
	if len(rec.Payload) > 0 {
		env["payload"] = json.RawMessage(rec.Payload)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery payload: %w", err)
	}
	return b, nil
}

func nsToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// JobRun records the most recent outcome of a job family, for the ops
// surface only.
type JobRun struct {
	Family        string     `json:"family"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
