// Package cursor stores the per-source "last processed" watermarks.
//
// The store is a plain idempotent KV: it has no transactional coupling to the
// notification database. Callers only write a key after the transaction that
// consumed the corresponding window has committed, which bounds crash
// re-processing to one cycle's worth of events.
package cursor

import (
	"context"
	"time"
)

// Fixed watermark keys. Each key has exactly one writing job family.
const (
	KeyLastBlock       = "notifications:last-block"
	KeyLastSlot        = "notifications:last-slot"
	KeyLastMessageTS   = "dm:last-message-ts"
	KeyLastReactionTS  = "dm:last-reaction-ts"
	KeyLastBlastID     = "dm:last-blast-id"
	KeyLastBlastUserID = "dm:last-blast-user-id"
	KeyLastEmailDigest = "emails:last-digest"
)

// Store is the watermark store contract. Absent keys return zero values, not
// errors; the fetchers treat zero as "start from the epoch".
type Store interface {
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
	GetInt(ctx context.Context, key string) (int64, error)
	SetInt(ctx context.Context, key string, v int64) error
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key string, v string) error
}
