package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// NotificationID derives the primary key for a notification row from its
// content. The same fold of the same raw events always produces the same id,
// which is what makes `INSERT OR IGNORE` a safe replay of a partially failed
// cycle.
func NotificationID(typ, groupKey string, actors []int64, occurredAtNs int64) string {
	parts := make([]string, 0, len(actors)+3)
	parts = append(parts, typ, groupKey, strconv.FormatInt(occurredAtNs, 10))
	for _, a := range actors {
		parts = append(parts, strconv.FormatInt(a, 10))
	}
	return "ntf_" + digest(strings.Join(parts, "|"))
}

// MilestoneID derives the primary key for a milestone notification. Keyed on
// (kind, entity, threshold) only: a user hits their 100th follower once, no
// matter how many cycles observe the count.
func MilestoneID(kind string, entityID, threshold int64) string {
	return "ntf_" + digest(fmt.Sprintf("milestone|%s|%d|%d", kind, entityID, threshold))
}

// digest returns a fixed 26-char hex fingerprint.
func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:13])
}
