package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Milestone kinds carried in the discovery feed's milestone seed.
const (
	MilestoneFollowers = "followers"
	MilestoneReposts   = "reposts"
	MilestoneFavorites = "favorites"
	MilestoneListens   = "listens"
)

// Crossing thresholds per milestone kind.
var milestoneThresholds = map[string][]int64{
	MilestoneFollowers: {10, 25, 50, 100, 250, 500, 1000, 5000, 10000, 20000, 50000, 100000, 1000000},
	MilestoneReposts:   {10, 25, 50, 100, 250, 500, 1000, 5000, 10000, 20000, 50000, 100000, 1000000},
	MilestoneFavorites: {10, 25, 50, 100, 250, 500, 1000, 5000, 10000, 20000, 50000, 100000, 1000000},
	MilestoneListens:   {25, 50, 100, 250, 500, 1000, 5000, 10000, 20000, 50000, 100000, 1000000},
}

// MilestoneSeed is the aggregate-count snapshot the discovery feed returns
// with each page: milestone kind -> entity id -> current count.
type MilestoneSeed map[string]map[int64]int64

// ComputeMilestones turns a seed into milestone notification records. For
// follower milestones the entity is the user themselves; for the rest the
// recipient is looked up in owners (entity id -> owner user id) and entities
// without a known owner are skipped. Pure: same seed, same records.
//
// A milestone fires when the count is exactly at a threshold. Counts that
// jump past a threshold between cycles are deliberately not backfilled; the
// row key (kind, entity, threshold) keeps whichever cycle observes the
// crossing idempotent.
func ComputeMilestones(seed MilestoneSeed, owners map[int64]int64, source string, blockOrSlot int64, occurredAt time.Time) ([]NotificationRecord, error) {
	var out []NotificationRecord
	for kind, counts := range seed {
		thresholds, ok := milestoneThresholds[kind]
		if !ok {
			return nil, fmt.Errorf("unknown milestone kind %q", kind)
		}
		for entityID, count := range counts {
			threshold, hit := crossedThreshold(thresholds, count)
			if !hit {
				continue
			}
			recipient := entityID
			if kind != MilestoneFollowers {
				owner, ok := owners[entityID]
				if !ok {
					continue
				}
				recipient = owner
			}
			payload, err := json.Marshal(map[string]any{
				"kind":      kind,
				"entity_id": entityID,
				"threshold": threshold,
			})
			if err != nil {
				return nil, fmt.Errorf("marshal milestone payload: %w", err)
			}
			out = append(out, NotificationRecord{
				ID:          MilestoneID(kind, entityID, threshold),
				Type:        "milestone",
				Source:      source,
				BlockOrSlot: blockOrSlot,
				GroupKey:    fmt.Sprintf("milestone:%s:%d:%d", kind, entityID, threshold),
				Recipients:  []int64{recipient},
				Payload:     payload,
				OccurredAt:  occurredAt,
			})
		}
	}
	return out, nil
}

func crossedThreshold(thresholds []int64, count int64) (int64, bool) {
	for _, t := range thresholds {
		if count == t {
			return t, true
		}
	}
	return 0, false
}
