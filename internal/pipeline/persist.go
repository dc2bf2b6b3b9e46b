package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/AudiusProject/apps-sub003/internal/event"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

// groupBucket is the time window within which events of the same type on the
// same entity fold into one notification ("N users favorited track T").
const groupBucket = "2006010215" // hourly, UTC

type recordBuilder struct {
	rec    store.NotificationRecord
	actors []int64
	seen   map[int64]struct{}
}

// BuildRecords folds an ordered, filtered event sequence into notification
// rows. Pure and deterministic: the same sequence always yields the same
// rows with the same ids, which is what makes a retried cycle a no-op.
// Records come out in first-occurrence order, so the insert order respects
// the event timestamp order.
func BuildRecords(events []event.Event, source string) ([]store.NotificationRecord, error) {
	builders := map[string]*recordBuilder{}
	var order []string

	for _, e := range events {
		key, rec, err := recordFor(e, source)
		if err != nil {
			return nil, err
		}
		b, ok := builders[key]
		if !ok {
			b = &recordBuilder{rec: rec, seen: map[int64]struct{}{}}
			builders[key] = b
			order = append(order, key)
		}
		if _, dup := b.seen[e.InitiatorID()]; !dup {
			b.seen[e.InitiatorID()] = struct{}{}
			b.actors = append(b.actors, e.InitiatorID())
		}
		// The fold keeps the latest timestamp and highest block of its
		// members; events arrive ascending so last write wins.
		b.rec.OccurredAt = e.OccurredAt()
		if rec.BlockOrSlot > b.rec.BlockOrSlot {
			b.rec.BlockOrSlot = rec.BlockOrSlot
		}
	}

	out := make([]store.NotificationRecord, 0, len(order))
	for _, key := range order {
		b := builders[key]
		payload, err := foldPayload(b.rec.Payload, b.actors)
		if err != nil {
			return nil, err
		}
		b.rec.Payload = payload
		b.rec.ID = store.NotificationID(b.rec.Type, b.rec.GroupKey, b.actors, b.rec.OccurredAt.UnixNano())
		out = append(out, b.rec)
	}
	return out, nil
}

// recordFor maps one event to its group key and row skeleton. The switch is
// exhaustive over the closed event set.
func recordFor(e event.Event, source string) (string, store.NotificationRecord, error) {
	switch v := e.(type) {
	case event.ChainNotification:
		return chainRecordFor(v, source)
	case event.ChatMessage:
		key := fmt.Sprintf("message:%s:%s", v.ChatID, v.MessageID)
		return key, store.NotificationRecord{
			Type:       string(event.TypeMessage),
			Source:     source,
			GroupKey:   key,
			Recipients: []int64{v.Receiver},
			Payload: mustJSON(map[string]any{
				"chat_id":        v.ChatID,
				"message_id":     v.MessageID,
				"sender_user_id": v.Sender,
			}),
		}, nil
	case event.ChatReaction:
		key := fmt.Sprintf("message_reaction:%s:%d", v.MessageID, v.Sender)
		return key, store.NotificationRecord{
			Type:       string(event.TypeMessageReaction),
			Source:     source,
			GroupKey:   key,
			Recipients: []int64{v.Receiver},
			Payload: mustJSON(map[string]any{
				"chat_id":        v.ChatID,
				"message_id":     v.MessageID,
				"sender_user_id": v.Sender,
				"reaction":       v.Reaction,
			}),
		}, nil
	case event.ChatBlast:
		key := fmt.Sprintf("blast:%s:%d", v.BlastID, v.Receiver)
		return key, store.NotificationRecord{
			Type:       string(event.TypeBlast),
			Source:     source,
			GroupKey:   key,
			Recipients: []int64{v.Receiver},
			Payload: mustJSON(map[string]any{
				"blast_id":       v.BlastID,
				"chat_id":        v.ChatID,
				"sender_user_id": v.Sender,
			}),
		}, nil
	default:
		return "", store.NotificationRecord{}, fmt.Errorf("unhandled event kind %s", e.Kind())
	}
}

func chainRecordFor(n event.ChainNotification, source string) (string, store.NotificationRecord, error) {
	bucket := n.Timestamp.UTC().Format(groupBucket)
	var key string
	switch n.Type {
	case event.TypeFollow:
		// Follows fold per followee: "N users followed you".
		key = fmt.Sprintf("follow:%d:%s", n.Recipient, bucket)
	case event.TypeRepost, event.TypeFavorite:
		if n.Entity == nil {
			return "", store.NotificationRecord{}, fmt.Errorf("%s event without entity", n.Type)
		}
		key = fmt.Sprintf("%s:%s:%d:%s", n.Type, n.Entity.Type, n.Entity.ID, bucket)
	default:
		// Everything else is one row per event.
		key = fmt.Sprintf("%s:%d:%d", n.Type, n.Initiator, n.Timestamp.UnixNano())
	}

	payload := map[string]any{}
	if n.Entity != nil {
		payload["entity_type"] = n.Entity.Type
		payload["entity_id"] = n.Entity.ID
	}
	if len(n.Extra) > 0 {
		payload["extra"] = json.RawMessage(n.Extra)
	}

	return key, store.NotificationRecord{
		Type:        string(n.Type),
		Source:      source,
		BlockOrSlot: n.BlockOrSlot,
		GroupKey:    key,
		Recipients:  []int64{n.Recipient},
		Payload:     mustJSON(payload),
	}, nil
}

func foldPayload(base json.RawMessage, actors []int64) (json.RawMessage, error) {
	var m map[string]any
	if len(base) > 0 {
		if err := json.Unmarshal(base, &m); err != nil {
			return nil, fmt.Errorf("decode fold payload: %w", err)
		}
	} else {
		m = map[string]any{}
	}
	m["initiator_ids"] = actors
	return json.Marshal(m)
}

func mustJSON(m map[string]any) json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		// Only reachable with non-marshalable values, which the builders
		// above never produce.
		panic(err)
	}
	return b
}

// persistTx writes the cycle's records and queues their deliveries inside
// the supplied transaction. Rows whose key already exists are skipped along
// with their delivery jobs, so replaying a window re-delivers nothing.
func persistTx(tx *sql.Tx, records []store.NotificationRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		ok, err := store.InsertNotificationTx(tx, rec)
		if err != nil {
			return inserted, err
		}
		if !ok {
			continue
		}
		inserted++
		envelope, err := store.DeliveryPayload(rec)
		if err != nil {
			return inserted, err
		}
		for _, channel := range []string{store.ChannelPush, store.ChannelEmail} {
			if err := store.EnqueueDeliveryTx(tx, rec.ID, channel, envelope); err != nil {
				return inserted, err
			}
		}
	}
	return inserted, nil
}
