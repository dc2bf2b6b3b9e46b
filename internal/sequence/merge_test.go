package sequence_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/AudiusProject/apps-sub003/internal/event"
	"github.com/AudiusProject/apps-sub003/internal/sequence"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestMergeAscendingTimestamps(t *testing.T) {
	chain := []event.Event{
		event.ChainNotification{Initiator: 1, Timestamp: t0.Add(3 * time.Second)},
		event.ChainNotification{Initiator: 2, Timestamp: t0.Add(5 * time.Second)},
	}
	messages := []event.Event{
		event.ChatMessage{Sender: 3, Timestamp: t0.Add(1 * time.Second)},
		event.ChatMessage{Sender: 4, Timestamp: t0.Add(4 * time.Second)},
	}

	got := sequence.Merge(chain, messages)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].OccurredAt().Before(got[i-1].OccurredAt()) {
			t.Fatalf("out of order at %d: %v after %v", i, got[i].OccurredAt(), got[i-1].OccurredAt())
		}
	}
	if got[0].InitiatorID() != 3 || got[3].InitiatorID() != 2 {
		t.Errorf("merge order wrong: first=%d last=%d", got[0].InitiatorID(), got[3].InitiatorID())
	}
}

func TestMergeTieBreakBySourcePriority(t *testing.T) {
	msg := event.ChatMessage{Sender: 10, Timestamp: t0}
	reaction := event.ChatReaction{Sender: 11, Timestamp: t0}
	blast := event.ChatBlast{Sender: 12, Timestamp: t0}

	// Feed the batches in reverse priority order to prove the tie break.
	got := sequence.Merge([]event.Event{blast}, []event.Event{reaction}, []event.Event{msg})
	kinds := []event.Kind{got[0].Kind(), got[1].Kind(), got[2].Kind()}
	want := []event.Kind{event.KindChatMessage, event.KindChatReaction, event.KindChatBlast}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("tie break order = %v, want %v", kinds, want)
	}
}

func TestMergeDeterministic(t *testing.T) {
	batch := []event.Event{
		event.ChatMessage{Sender: 1, MessageID: "a", Timestamp: t0},
		event.ChatMessage{Sender: 2, MessageID: "b", Timestamp: t0},
		event.ChatMessage{Sender: 3, MessageID: "c", Timestamp: t0.Add(time.Second)},
	}

	first := sequence.Merge(batch)
	second := sequence.Merge(batch)
	if !reflect.DeepEqual(first, second) {
		t.Error("same input produced different orders")
	}
	// Stability: equal-timestamp messages keep their batch order.
	if first[0].(event.ChatMessage).MessageID != "a" {
		t.Errorf("stability violated: first = %+v", first[0])
	}
}

func TestMergeEmpty(t *testing.T) {
	if got := sequence.Merge(nil, []event.Event{}); len(got) != 0 {
		t.Errorf("merge of empty batches = %v", got)
	}
}
