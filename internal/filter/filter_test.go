package filter_test

import (
	"testing"
	"time"

	"github.com/AudiusProject/apps-sub003/internal/event"
	"github.com/AudiusProject/apps-sub003/internal/filter"
)

func chain(initiator int64, entity *event.Entity) event.ChainNotification {
	return event.ChainNotification{
		Type:      event.TypeFollow,
		Initiator: initiator,
		Entity:    entity,
		Timestamp: time.Now(),
	}
}

func TestDropBlockedInitiator(t *testing.T) {
	events := []event.Event{
		chain(1, nil),
		chain(2, nil),
		event.ChatMessage{Sender: 3, Receiver: 4},
	}
	flags := map[int64]event.AbuseFlags{
		2: {BlockedFromNotifications: true},
		3: {BlockedFromRelay: true},
	}

	got := filter.Drop(events, flags)
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].InitiatorID() != 1 {
		t.Errorf("survivor = %d, want 1", got[0].InitiatorID())
	}
}

func TestDropBlockedUserTarget(t *testing.T) {
	events := []event.Event{
		chain(1, &event.Entity{Type: event.EntityUser, ID: 9}),
		chain(1, &event.Entity{Type: event.EntityTrack, ID: 9}),
	}
	flags := map[int64]event.AbuseFlags{
		9: {BlockedFromRelay: true},
	}

	got := filter.Drop(events, flags)
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	// A blocked *track id* must not shadow a user id.
	if target, _ := got[0].Target(); target.Type != event.EntityTrack {
		t.Errorf("survivor target = %v, want the track event", target)
	}
}

func TestDropUnflaggedPassThrough(t *testing.T) {
	events := []event.Event{chain(1, nil), chain(2, nil)}
	got := filter.Drop(events, nil)
	if len(got) != 2 {
		t.Errorf("events = %d, want 2", len(got))
	}
}

func TestUserIDs(t *testing.T) {
	events := []event.Event{
		chain(1, &event.Entity{Type: event.EntityUser, ID: 9}),
		chain(1, &event.Entity{Type: event.EntityTrack, ID: 42}),
		event.ChatMessage{Sender: 3, Receiver: 4},
	}

	ids := filter.UserIDs(events)
	want := map[int64]bool{1: true, 9: true, 3: true}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want keys of %v", ids, want)
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected id %d (track ids and receivers are not flag subjects)", id)
		}
	}
}
