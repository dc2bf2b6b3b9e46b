// Package filter removes events involving users flagged for abuse before
// they reach the sequencer, so flagged actors never advance notification or
// milestone counters.
package filter

import (
	"context"

	"github.com/AudiusProject/apps-sub003/internal/event"
)

// FlagSource batch-looks-up moderation flags. The flags are owned by the
// identity service and read-only here.
type FlagSource interface {
	Lookup(ctx context.Context, userIDs []int64) (map[int64]event.AbuseFlags, error)
}

// UserIDs collects every user id whose flags matter for the given events:
// all initiators plus any target that is itself a user entity.
func UserIDs(events []event.Event) []int64 {
	seen := make(map[int64]struct{}, len(events))
	out := make([]int64, 0, len(events))
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, e := range events {
		add(e.InitiatorID())
		if target, ok := e.Target(); ok && target.Type == event.EntityUser {
			add(target.ID)
		}
	}
	return out
}

// Drop returns the events whose initiator is not blocked and whose target,
// when it is a user entity, is not blocked either. Pure: no lookups, no side
// effects. Users absent from flags are treated as unflagged.
func Drop(events []event.Event, flags map[int64]event.AbuseFlags) []event.Event {
	out := make([]event.Event, 0, len(events))
	for _, e := range events {
		if flags[e.InitiatorID()].Blocked() {
			continue
		}
		if target, ok := e.Target(); ok && target.Type == event.EntityUser && flags[target.ID].Blocked() {
			continue
		}
		out = append(out, e)
	}
	return out
}
