package pipeline

import (
	"context"
	"database/sql"
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

// ChainIndexer runs the discovery-feed notification cycle.
type ChainIndexer struct {
	Feed       source.Feed
	Store      *store.Store
	Cursors    cursor.Store
	Flags      filter.FlagSource
	Dispatcher *dispatch.Dispatcher
	// FetchTimeout bounds the feed call; the original uses minute-scale
	// timeouts so a stuck fetch cannot outlive the job lock lease.
	FetchTimeout time.Duration
}

// Cycle fetches everything above the block watermark, persists it, and
// advances the watermark on commit.
func (ix *ChainIndexer) Cycle(ctx context.Context) (Report, error) {
	report := Report{Family: "chain", Phase: PhaseFetching}
	ctx, span := startSpan(ctx, report.Family)
	var err error
	defer func() { finishSpan(span, report, err) }()

	minBlock, err := ix.Cursors.GetInt(ctx, cursor.KeyLastBlock)
	if err != nil {
		return failed(&report, err)
	}

	page, err := ix.Feed.Notifications(ctx, minBlock, ix.FetchTimeout)
	if err != nil {
		return failed(&report, err)
	}
	report.Fetched = len(page.Events)

	// Belt and suspenders on top of the cursor window: never re-process
	// below what is already persisted. Events at the boundary block stay in,
	// since one block can span two cycles.
	maxPersisted, err := ix.Store.MaxBlockOrSlot(store.SourceChain)
	if err != nil {
		return failed(&report, err)
	}
	events := make([]event.Event, 0, len(page.Events))
	for _, n := range page.Events {
		if n.BlockOrSlot < maxPersisted {
			continue
		}
		events = append(events, n)
	}

	report.Phase = PhaseFiltering
	flags, err := ix.Flags.Lookup(ctx, filter.UserIDs(events))
	if err != nil {
		return failed(&report, err)
	}
	kept := filter.Drop(events, flags)
	report.Dropped = len(events) - len(kept)

	report.Phase = PhaseSequencing
	ordered := sequence.Merge(kept)

	records, err := BuildRecords(ordered, store.SourceChain)
	if err != nil {
		return failed(&report, err)
	}

	milestoneAt := time.Now().UTC()
	if len(ordered) > 0 {
		milestoneAt = ordered[len(ordered)-1].OccurredAt()
	}
	milestones, err := store.ComputeMilestones(page.Milestones, page.Owners,
		store.SourceChain, page.MaxBlock, milestoneAt)
	if err != nil {
		return failed(&report, err)
	}

	report.Phase = PhasePersisting
	err = ix.Store.ExecuteTx(func(tx *sql.Tx) error {
		n, err := persistTx(tx, records)
		if err != nil {
			return err
		}
		report.Persisted = n
		m, err := persistTx(tx, milestones)
		if err != nil {
			return err
		}
		report.Milestones = m
		return nil
	})
	if err != nil {
		return failed(&report, err)
	}
	report.Phase = PhaseCommitted

	if page.MaxBlock > minBlock {
		if err = ix.Cursors.SetInt(ctx, cursor.KeyLastBlock, page.MaxBlock); err != nil {
			// The data is committed; a failed cursor write only means the
			// next cycle re-reads a window it will no-op on.
			slog.Error("advance block cursor failed", "error", err)
			err = nil
		}
	}

	drainAll(ctx, ix.Dispatcher, &report)
	slog.Info("chain cycle complete",
		"min_block", minBlock, "max_block", page.MaxBlock,
		"fetched", report.Fetched, "dropped", report.Dropped,
		"persisted", report.Persisted, "milestones", report.Milestones)
	return report, nil
}
