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

// SolanaIndexer runs the solana-feed notification cycle. Same shape as the
// chain cycle, keyed by slot instead of block, and the solana feed carries
// no milestone seed.
type SolanaIndexer struct {
	Feed         source.Feed
	Store        *store.Store
	Cursors      cursor.Store
	Flags        filter.FlagSource
	Dispatcher   *dispatch.Dispatcher
	FetchTimeout time.Duration
}

func (ix *SolanaIndexer) Cycle(ctx context.Context) (Report, error) {
	report := Report{Family: "solana", Phase: PhaseFetching}
	ctx, span := startSpan(ctx, report.Family)
	var err error
	defer func() { finishSpan(span, report, err) }()

	minSlot, err := ix.Cursors.GetInt(ctx, cursor.KeyLastSlot)
	if err != nil {
		return failed(&report, err)
	}

	page, err := ix.Feed.SolanaNotifications(ctx, minSlot, ix.FetchTimeout)
	if err != nil {
		return failed(&report, err)
	}
	report.Fetched = len(page.Events)

	maxPersisted, err := ix.Store.MaxBlockOrSlot(store.SourceSolana)
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

	records, err := BuildRecords(ordered, store.SourceSolana)
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
		return nil
	})
	if err != nil {
		return failed(&report, err)
	}
	report.Phase = PhaseCommitted

	if page.MaxSlot > minSlot {
		if err = ix.Cursors.SetInt(ctx, cursor.KeyLastSlot, page.MaxSlot); err != nil {
			slog.Error("advance slot cursor failed", "error", err)
			err = nil
		}
	}

	drainAll(ctx, ix.Dispatcher, &report)
	slog.Info("solana cycle complete",
		"min_slot", minSlot, "max_slot", page.MaxSlot,
		"fetched", report.Fetched, "persisted", report.Persisted)
	return report, nil
}
