// Package pipeline drives the per-family indexing cycles: fetch new events
// from the sources, filter abusive actors, order the merged set, persist
// notifications and milestones in one transaction, then drain delivery.
// Watermarks advance only after a committed transaction.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AudiusProject/apps-sub003/internal/dispatch"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

var tracer = otel.Tracer("github.com/AudiusProject/apps-sub003/internal/pipeline")

// Report summarizes one cycle for logs and the scheduler.
type Report struct {
	Family     string
	Phase      Phase
	Fetched    int
	Dropped    int
	Persisted  int
	Milestones int
	Drained    map[string]int
}

func startSpan(ctx context.Context, family string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "pipeline.cycle",
		trace.WithAttributes(attribute.String("job.family", family)))
	return ctx, span
}

func finishSpan(span trace.Span, report Report, err error) {
	span.SetAttributes(
		attribute.String("cycle.phase", report.Phase.String()),
		attribute.Int("cycle.fetched", report.Fetched),
		attribute.Int("cycle.persisted", report.Persisted),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// drainAll empties every channel after a committed cycle. Drain errors do
// not fail the cycle: the rows are committed and the queue survives for the
// next run.
func drainAll(ctx context.Context, d *dispatch.Dispatcher, report *Report) {
	report.Phase = PhaseDraining
	report.Drained = map[string]int{}
	for _, channel := range []string{store.ChannelPush, store.ChannelEmail} {
		n, err := d.Drain(ctx, channel)
		report.Drained[channel] = n
		if err != nil {
			slog.Error("drain failed", "family", report.Family, "channel", channel, "error", err)
		}
	}
	report.Phase = PhaseDone
}

func failed(report *Report, err error) (Report, error) {
	report.Phase = PhaseRolledBack
	return *report, fmt.Errorf("%s cycle: %w", report.Family, err)
}
