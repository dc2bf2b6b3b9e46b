package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/AudiusProject/apps-sub003/internal/cursor"
	"github.com/AudiusProject/apps-sub003/internal/dispatch"
	"github.com/AudiusProject/apps-sub003/internal/event"
	"github.com/AudiusProject/apps-sub003/internal/filter"
	"github.com/AudiusProject/apps-sub003/internal/sequence"
	"github.com/AudiusProject/apps-sub003/internal/source"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

// ChatSource is the chat-database collaborator, satisfied by
// source.ChatStore.
type ChatSource interface {
	UnreadMessages(ctx context.Context, low, high time.Time) ([]event.ChatMessage, error)
	UnreadReactions(ctx context.Context, low, high time.Time) ([]event.ChatReaction, error)
	NewBlasts(ctx context.Context, blastID string, userID int64, pageSize int) (source.BlastPage, error)
}

// DMIndexer runs the direct-message cycle: unread messages, unread
// reactions, and blast audience pages, each behind its own cursor. One
// sub-source failing contributes zero events and leaves its cursor alone
// while the others still make progress.
type DMIndexer struct {
	Chat       ChatSource
	Store      *store.Store
	Cursors    cursor.Store
	Flags      filter.FlagSource
	Dispatcher *dispatch.Dispatcher
	// SafetyDelay holds the window high edge back from wall time so rows
	// committed upstream with slightly older timestamps are not skipped.
	SafetyDelay time.Duration
	PageSize    int

	// now is swapped in tests.
	now func() time.Time
}

func (ix *DMIndexer) clock() time.Time {
	if ix.now != nil {
		return ix.now()
	}
	return time.Now().UTC()
}

// Cycle fetches all three DM sub-sources, persists the merged window in one
// transaction, then advances each cursor that actually moved.
func (ix *DMIndexer) Cycle(ctx context.Context) (Report, error) {
	report := Report{Family: "dm", Phase: PhaseFetching}
	ctx, span := startSpan(ctx, report.Family)
	var err error
	defer func() { finishSpan(span, report, err) }()

	maxTs := ix.clock().Add(-ix.SafetyDelay)

	lastMsg, err := ix.Cursors.GetTime(ctx, cursor.KeyLastMessageTS)
	if err != nil {
		return failed(&report, err)
	}
	lastReaction, err := ix.Cursors.GetTime(ctx, cursor.KeyLastReactionTS)
	if err != nil {
		return failed(&report, err)
	}
	lastBlastID, err := ix.Cursors.GetString(ctx, cursor.KeyLastBlastID)
	if err != nil {
		return failed(&report, err)
	}
	lastBlastUser, err := ix.Cursors.GetInt(ctx, cursor.KeyLastBlastUserID)
	if err != nil {
		return failed(&report, err)
	}

	// First run: start at the window edge instead of replaying all history.
	if lastMsg.IsZero() {
		lastMsg = maxTs
	}
	if lastReaction.IsZero() {
		lastReaction = maxTs
	}

	var fetchErrs []error
	var events []event.Event

	messages, msgErr := ix.Chat.UnreadMessages(ctx, lastMsg, maxTs)
	if msgErr != nil {
		fetchErrs = append(fetchErrs, msgErr)
		messages = nil
	}
	for _, m := range messages {
		events = append(events, m)
	}

	reactions, reactionErr := ix.Chat.UnreadReactions(ctx, lastReaction, maxTs)
	if reactionErr != nil {
		fetchErrs = append(fetchErrs, reactionErr)
		reactions = nil
	}
	for _, r := range reactions {
		events = append(events, r)
	}

	blasts, blastErr := ix.Chat.NewBlasts(ctx, lastBlastID, lastBlastUser, ix.PageSize)
	if blastErr != nil {
		fetchErrs = append(fetchErrs, blastErr)
		blasts = source.BlastPage{}
	}
	for _, b := range blasts.Events {
		events = append(events, b)
	}
	report.Fetched = len(events)

	report.Phase = PhaseFiltering
	flags, err := ix.Flags.Lookup(ctx, filter.UserIDs(events))
	if err != nil {
		return failed(&report, err)
	}
	kept := filter.Drop(events, flags)
	report.Dropped = len(events) - len(kept)

	report.Phase = PhaseSequencing
	ordered := sequence.Merge(kept)

	records, err := BuildRecords(ordered, store.SourceDM)
	if err != nil {
		return failed(&report, err)
	}

	report.Phase = PhasePersisting
	if len(records) > 0 {
		err = ix.Store.ExecuteTx(func(tx *sql.Tx) error {
			n, err := persistTx(tx, records)
			if err != nil {
				return err
			}
			report.Persisted = n
			return nil
		})
		if err != nil {
			return failed(&report, err)
		}
	}
	report.Phase = PhaseCommitted

	// Cursors advance only for sub-sources whose fetch succeeded. An empty
	// window still advances to the window edge: the safety delay already
	// guards against rows landing behind it.
	ix.advanceCursors(ctx, maxTs, messages, msgErr == nil, reactions, reactionErr == nil, blasts)

	drainAll(ctx, ix.Dispatcher, &report)
	slog.Info("dm cycle complete",
		"fetched", report.Fetched, "dropped", report.Dropped,
		"persisted", report.Persisted,
		"blast_id", blasts.BlastID, "blast_user_id", blasts.UserID)

	if len(fetchErrs) > 0 {
		// Persisted work stays committed; the cycle still reports the
		// partial failure so the scheduler records it.
		err = errors.Join(fetchErrs...)
		return report, err
	}
	return report, nil
}

// advanceCursors writes back every cursor whose fetch succeeded. A failed
// fetch leaves its cursor put; a clean empty window advances to the window
// edge.
func (ix *DMIndexer) advanceCursors(ctx context.Context, maxTs time.Time,
	messages []event.ChatMessage, msgOK bool,
	reactions []event.ChatReaction, reactionOK bool,
	blasts source.BlastPage) {

	if msgOK {
		next := maxTs
		if len(messages) > 0 {
			next = messages[len(messages)-1].Timestamp
		}
		if err := ix.Cursors.SetTime(ctx, cursor.KeyLastMessageTS, next); err != nil {
			slog.Error("advance message cursor failed", "error", err)
		}
	}

	if reactionOK {
		next := maxTs
		if len(reactions) > 0 {
			next = reactions[len(reactions)-1].Timestamp
		}
		if err := ix.Cursors.SetTime(ctx, cursor.KeyLastReactionTS, next); err != nil {
			slog.Error("advance reaction cursor failed", "error", err)
		}
	}

	// The blast pair only moves when a page actually resolved, and the id
	// must land before the user id so a crash between the two writes re-reads
	// a page instead of skipping one.
	if blasts.Advanced {
		if err := ix.Cursors.SetString(ctx, cursor.KeyLastBlastID, blasts.BlastID); err != nil {
			slog.Error("advance blast id cursor failed", "error", err)
			return
		}
		if err := ix.Cursors.SetInt(ctx, cursor.KeyLastBlastUserID, blasts.UserID); err != nil {
			slog.Error("advance blast user cursor failed", "error", err)
		}
	}
}
