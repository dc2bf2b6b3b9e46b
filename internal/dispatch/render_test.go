package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AudiusProject/apps-sub003/internal/store"
)

func envelope(t *testing.T, typ string, recipients []int64) []byte {
	t.Helper()
	b, err := store.DeliveryPayload(store.NotificationRecord{
		Type:       typ,
		Recipients: recipients,
		Payload:    []byte(`{"initiator_ids":[3]}`),
	})
	if err != nil {
		t.Fatalf("DeliveryPayload: %v", err)
	}
	return b
}

func TestBasicRendererPush(t *testing.T) {
	out, err := BasicRenderer{}.Render(store.DeliveryJob{
		ID:      1,
		Channel: store.ChannelPush,
		Payload: envelope(t, "follow", []int64{7}),
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	var got struct {
		Title        string  `json:"title"`
		RecipientIDs []int64 `json:"recipient_ids"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Title == "" {
		t.Error("push title empty")
	}
	if len(got.RecipientIDs) != 1 || got.RecipientIDs[0] != 7 {
		t.Errorf("recipient_ids = %v, want [7]", got.RecipientIDs)
	}
}

func TestBasicRendererEmail(t *testing.T) {
	out, err := BasicRenderer{}.Render(store.DeliveryJob{
		ID:      2,
		Channel: store.ChannelEmail,
		Payload: envelope(t, "digest", []int64{7}),
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	var got struct {
		Subject string `json:"subject"`
		HTML    string `json:"html"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Subject == "" || got.HTML == "" {
		t.Errorf("email render = %+v, want subject and html", got)
	}
}

func TestBasicRendererRejectsEmptyRecipients(t *testing.T) {
	if _, err := (BasicRenderer{}).Render(store.DeliveryJob{
		ID:      3,
		Channel: store.ChannelPush,
		Payload: envelope(t, "follow", nil),
	}); err == nil {
		t.Fatal("Render accepted envelope with no recipients")
	}
}

func TestBasicRendererOutputValidates(t *testing.T) {
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := store.NewStore(db)

	d, err := New(s, BasicRenderer{}, map[string]Transport{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, channel := range []string{store.ChannelPush, store.ChannelEmail} {
		out, err := BasicRenderer{}.Render(store.DeliveryJob{
			Channel: channel,
			Payload: envelope(t, "milestone", []int64{7}),
		})
		if err != nil {
			t.Fatalf("Render %s: %v", channel, err)
		}
		result, err := d.schemas[channel].Validate(gojsonschema.NewBytesLoader(out))
		if err != nil {
			t.Fatalf("Validate %s: %v", channel, err)
		}
		if !result.Valid() {
			t.Errorf("%s payload failed its schema: %v", channel, validationSummary(result))
		}
	}
}
