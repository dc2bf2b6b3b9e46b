// Package sequence merges the per-source event batches into one total order.
package sequence

import (
	"sort"

	"github.com/AudiusProject/apps-sub003/internal/event"
)

// Merge flattens the batches and sorts ascending by timestamp, breaking ties
// with the source kind's declared priority. The sort is stable and reads no
// clock, so a retried cycle over the same inputs produces the identical
// order and folds notifications identically.
func Merge(batches ...[]event.Event) []event.Event {
	var total int
	for _, b := range batches {
		total += len(b)
	}
	out := make([]event.Event, 0, total)
	for _, b := range batches {
		out = append(out, b...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].OccurredAt(), out[j].OccurredAt()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Kind().Priority() < out[j].Kind().Priority()
	})
	return out
}
