// Package ingest drives one refresh run: it loads a normalized events
// artifact into the store, updates source watermarks and records the run
// lifecycle.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
	"github.com/hoangnb24/logit-sub000/pkg/observability"
	"github.com/hoangnb24/logit-sub000/pkg/store"
	"github.com/hoangnb24/logit-sub000/pkg/watermark"
)

// Store is the persistence surface a refresh needs.
type Store interface {
	EnsureSchema(ctx context.Context) error
	StartRun(ctx context.Context, id, sourceRoot string, startedAt time.Time, eventsRead, warnings int) error
	WriteEvents(ctx context.Context, events []agentlog.Event, batchSize int) (store.WriteStats, error)
	LoadWatermarks(ctx context.Context) (map[string]watermark.Prior, error)
	ApplyWatermarkPlan(ctx context.Context, plan watermark.Plan) (int, error)
	FinalizeRun(ctx context.Context, id string, out store.RunOutcome) error
}

// Plan describes one refresh.
type Plan struct {
	EventsPath string
	SourceRoot string
	FailFast   bool
	BatchSize  int
}

// Pipeline runs refreshes against one store. Runs must not overlap.
type Pipeline struct {
	store    Store
	metrics  *observability.Provider
	logger   *slog.Logger
	now      func() time.Time
	newRunID func() string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMetrics records run metrics and spans on p.
func WithMetrics(p *observability.Provider) Option {
	return func(pl *Pipeline) { pl.metrics = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// WithRunID overrides ingest run id generation.
func WithRunID(gen func() string) Option {
	return func(pl *Pipeline) { pl.newRunID = gen }
}

// NewPipeline builds a refresh pipeline over s.
func NewPipeline(s Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    s,
		logger:   slog.Default().With("component", "ingest"),
		now:      time.Now,
		newRunID: NewRunID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRunID returns a time-ordered ingest run id.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "ingest-" + id.String()
}

// Refresh ingests plan.EventsPath. Once the run row exists, any failure
// finalizes it as failed and is returned together with the partial report.
// Event batches committed before a failure stay committed.
func (p *Pipeline) Refresh(ctx context.Context, plan Plan) (Report, error) {
	started := p.now()
	report := Report{
		IngestRunID:    p.newRunID(),
		SourceRoot:     plan.SourceRoot,
		Status:         store.RunFailed,
		StartedAt:      started,
		WatermarkState: watermark.RunUnknown,
	}
	logger := p.logger.With("ingest_run_id", report.IngestRunID)

	if p.metrics != nil {
		var span trace.Span
		ctx, span = p.metrics.StartSpan(ctx, "ingest.refresh",
			attribute.String("ingest_run_id", report.IngestRunID),
			attribute.String("source_root", plan.SourceRoot),
		)
		defer span.End()
	}

	events, warnings, err := agentlog.ReadFile(plan.EventsPath, plan.FailFast)
	if err != nil {
		return report, err
	}
	report.EventsRead = len(events)
	report.Warnings = warnings
	report.WarningsCount = len(warnings)
	report.EventsSkipped = len(warnings)

	if err := p.store.EnsureSchema(ctx); err != nil {
		return report, err
	}
	if err := p.store.StartRun(ctx, report.IngestRunID, plan.SourceRoot, started, len(events), len(warnings)); err != nil {
		return report, err
	}
	logger.InfoContext(ctx, "ingest run started", "events_read", len(events), "warnings", len(warnings))

	stats, err := p.store.WriteEvents(ctx, events, plan.BatchSize)
	report.EventsWritten = stats.RecordsWritten
	if err != nil {
		return p.fail(ctx, logger, report, fmt.Errorf("failed to write ingested rows to store: %w", err))
	}

	prior, err := p.store.LoadWatermarks(ctx)
	if err != nil {
		return p.fail(ctx, logger, report, fmt.Errorf("failed to load source watermarks: %w", err))
	}
	refreshed := p.now()
	wmPlan := watermark.Evaluate(prior, watermark.Candidates(events), report.IngestRunID, refreshed)
	for _, u := range wmPlan.Regressed() {
		logger.WarnContext(ctx, "source watermark regressed",
			"source_key", u.SourceKey,
			"timestamp_unix_ms", u.TimestampMs,
		)
	}
	upserted, err := p.store.ApplyWatermarkPlan(ctx, wmPlan)
	report.WatermarksUpserted = upserted
	if err != nil {
		return p.fail(ctx, logger, report, fmt.Errorf("failed to update source watermarks: %w", err))
	}
	report.WatermarkState = wmPlan.RunState

	report.Status = store.RunSuccess
	report.FinishedAt = refreshed
	report.DurationMs = durationMs(started, refreshed)
	err = p.store.FinalizeRun(ctx, report.IngestRunID, store.RunOutcome{
		Status:        store.RunSuccess,
		FinishedAt:    refreshed,
		EventsRead:    report.EventsRead,
		EventsWritten: report.EventsWritten,
		WarningsCount: report.WarningsCount,
	})
	if err != nil {
		return p.fail(ctx, logger, report, fmt.Errorf("failed to finalize ingest run: %w", err))
	}

	p.record(ctx, report)
	logger.InfoContext(ctx, "ingest run finished",
		"status", string(report.Status),
		"events_written", report.EventsWritten,
		"watermarks_upserted", report.WatermarksUpserted,
		"staleness_state", string(report.WatermarkState),
		"duration_ms", report.DurationMs,
	)
	return report, nil
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, report Report, cause error) (Report, error) {
	finished := p.now()
	report.Status = store.RunFailed
	report.FinishedAt = finished
	report.DurationMs = durationMs(report.StartedAt, finished)
	report.ErrorsCount = 1

	finErr := p.store.FinalizeRun(ctx, report.IngestRunID, store.RunOutcome{
		Status:        store.RunFailed,
		FinishedAt:    finished,
		EventsRead:    report.EventsRead,
		EventsWritten: report.EventsWritten,
		WarningsCount: report.WarningsCount,
		ErrorsCount:   1,
		ErrorSummary:  store.ErrorSummary(cause),
	})
	p.record(ctx, report)
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	logger.ErrorContext(ctx, "ingest run failed",
		"error", cause,
		"events_written", report.EventsWritten,
	)
	if finErr != nil {
		return report, errors.Join(cause, finErr)
	}
	return report, cause
}

func (p *Pipeline) record(ctx context.Context, report Report) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordRun(ctx, string(report.Status), report.EventsRead, report.EventsWritten,
		time.Duration(report.DurationMs)*time.Millisecond)
}

func durationMs(start, end time.Time) int64 {
	if end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}
