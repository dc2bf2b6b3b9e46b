package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/AudiusProject/apps-sub003/internal/store"
)

// deliveryEnvelope mirrors store.DeliveryPayload.
type deliveryEnvelope struct {
	Type       string          `json:"type"`
	Recipients []int64         `json:"recipients"`
	Payload    json.RawMessage `json:"payload"`
}

// Copy per notification type. Types without an entry fall back to a generic
// line; localization and real templating belong to the email service.
var pushCopy = map[string]string{
	"follow":           "You have a new follower",
	"repost":           "Someone reposted your content",
	"favorite":         "Someone favorited your content",
	"remix_create":     "Someone remixed your track",
	"remix_cosign":     "Your remix got co-signed",
	"tip_send":         "You received a tip",
	"milestone":        "You hit a milestone",
	"message":          "You have a new message",
	"message_reaction": "Someone reacted to your message",
	"blast":            "You have a new message",
	"usdc_purchase":    "Someone bought your content",
}

var emailCopy = map[string]string{
	"digest":       "Your notification digest",
	"download_app": "Get the app",
}

// BasicRenderer renders queue envelopes into the minimal channel payloads.
type BasicRenderer struct{}

func (BasicRenderer) Render(job store.DeliveryJob) (json.RawMessage, error) {
	var env deliveryEnvelope
	if err := json.Unmarshal(job.Payload, &env); err != nil {
		return nil, fmt.Errorf("decode delivery envelope: %w", err)
	}
	if len(env.Recipients) == 0 {
		return nil, fmt.Errorf("delivery %d has no recipients", job.ID)
	}

	if job.Channel == store.ChannelEmail {
		subject, ok := emailCopy[env.Type]
		if !ok {
			subject = "New activity on your account"
		}
		return json.Marshal(map[string]any{
			"subject":       subject,
			"html":          fmt.Sprintf("<p>%s</p>", subject),
			"recipient_ids": env.Recipients,
			"payload":       env.Payload,
		})
	}

	title, ok := pushCopy[env.Type]
	if !ok {
		title = "New activity"
	}
	return json.Marshal(map[string]any{
		"title":         title,
		"body":          "",
		"recipient_ids": env.Recipients,
		"payload":       env.Payload,
	})
}
