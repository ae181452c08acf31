package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
	"github.com/hoangnb24/logit-sub000/pkg/agentlog/agentlogtest"
	"github.com/hoangnb24/logit-sub000/pkg/ingest"
	"github.com/hoangnb24/logit-sub000/pkg/normalize"
	"github.com/hoangnb24/logit-sub000/pkg/observability"
	"github.com/hoangnb24/logit-sub000/pkg/store"
	"github.com/hoangnb24/logit-sub000/pkg/watermark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.Store
	dir    string
	events string
}

func newFixture(t *testing.T, n int) fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(dir, "mart.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	events := make([]agentlog.Event, 0, n)
	for i := 0; i < n; i++ {
		kind, path := agentlog.SourceCodex, "/logs/codex/session.jsonl"
		if i%2 == 1 {
			kind, path = agentlog.SourceClaude, "/logs/claude/project.jsonl"
		}
		events = append(events, agentlogtest.Event(fmt.Sprintf("e%02d", i),
			agentlogtest.WithSource(kind, path, fmt.Sprintf("line:%d", i+1)),
			agentlogtest.WithTimestamp(uint64(1_700_000_000_000+i)),
			agentlogtest.WithContent(fmt.Sprintf("message %d", i))))
	}
	events, _ = normalize.DedupeAndSort(events)
	eventsPath := filepath.Join(dir, "events.jsonl")
	require.NoError(t, agentlog.WriteFile(eventsPath, events))
	return fixture{store: s, dir: dir, events: eventsPath}
}

func (f fixture) plan() ingest.Plan {
	return ingest.Plan{EventsPath: f.events, SourceRoot: "/logs", BatchSize: 2}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ingest-%d", n)
	}
}

func clock() func() time.Time {
	now := t0
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestRefresh_SuccessAndReplay(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	pl := ingest.NewPipeline(f.store, ingest.WithRunID(sequentialIDs()), ingest.WithClock(clock()))

	report, err := pl.Refresh(ctx, f.plan())
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, report.Status)
	assert.Equal(t, "ingest-1", report.IngestRunID)
	assert.Equal(t, 5, report.EventsRead)
	assert.Equal(t, 5, report.EventsWritten)
	assert.Equal(t, 2, report.WatermarksUpserted)
	assert.Equal(t, watermark.RunFresh, report.WatermarkState)

	run, err := f.store.GetRun(ctx, "ingest-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, run.Status)
	assert.Equal(t, 5, run.EventsWritten)
	assert.Equal(t, 0, run.ErrorsCount)

	replay, err := pl.Refresh(ctx, f.plan())
	require.NoError(t, err)
	assert.Equal(t, "ingest-2", replay.IngestRunID)
	assert.Equal(t, watermark.RunFresh, replay.WatermarkState)

	wms, err := f.store.ListWatermarks(ctx)
	require.NoError(t, err)
	require.Len(t, wms, 2)
	for _, wm := range wms {
		var md watermark.DecisionMetadata
		require.NoError(t, json.Unmarshal(wm.Metadata, &md))
		assert.Equal(t, watermark.DecisionSkip, md.IncrementalDecision)
		assert.Equal(t, watermark.ReasonUnchangedFrontier, md.DecisionReason)
		assert.Equal(t, "ingest-2", *wm.LastRunID)
	}

	n, err := f.store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	runs, err := f.store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	events, _, err := agentlog.ReadFile(f.events, true)
	require.NoError(t, err)
	parity, err := f.store.VerifyParity(ctx, events)
	require.NoError(t, err)
	assert.True(t, parity.Match(), "%+v", parity.Mismatches)
}

func TestRefresh_MalformedLinesAreSkipped(t *testing.T) {
	f := newFixture(t, 2)
	file, err := os.OpenFile(f.events, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = file.WriteString("{not json}\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	pl := ingest.NewPipeline(f.store, ingest.WithRunID(sequentialIDs()))
	report, err := pl.Refresh(context.Background(), f.plan())
	require.NoError(t, err)
	assert.Equal(t, 2, report.EventsRead)
	assert.Equal(t, 1, report.EventsSkipped)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "line 3")

	run, err := f.store.GetRun(context.Background(), "ingest-1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.WarningsCount)

	plan := f.plan()
	plan.FailFast = true
	_, err = pl.Refresh(context.Background(), plan)
	require.Error(t, err)
	runs, err := f.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "fail-fast read errors happen before the run row")
}

// faultyStore injects failures into an otherwise real store.
type faultyStore struct {
	*store.Store
	writeErr     error
	written      int
	watermarkErr error
	finalizeErr  error
}

func (f *faultyStore) WriteEvents(ctx context.Context, events []agentlog.Event, batchSize int) (store.WriteStats, error) {
	if f.writeErr == nil {
		return f.Store.WriteEvents(ctx, events, batchSize)
	}
	stats, err := f.Store.WriteEvents(ctx, events[:f.written], batchSize)
	if err != nil {
		return stats, err
	}
	stats.InputRecords = len(events)
	return stats, f.writeErr
}

func (f *faultyStore) ApplyWatermarkPlan(ctx context.Context, plan watermark.Plan) (int, error) {
	if f.watermarkErr != nil {
		return 0, f.watermarkErr
	}
	return f.Store.ApplyWatermarkPlan(ctx, plan)
}

// FinalizeRun fails the success transition only.
func (f *faultyStore) FinalizeRun(ctx context.Context, id string, out store.RunOutcome) error {
	if f.finalizeErr != nil && out.Status == store.RunSuccess {
		return f.finalizeErr
	}
	return f.Store.FinalizeRun(ctx, id, out)
}

func TestRefresh_WriteFailureFinalizesFailed(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	faulty := &faultyStore{Store: f.store, writeErr: errors.New("database is locked"), written: 2}
	pl := ingest.NewPipeline(faulty, ingest.WithRunID(sequentialIDs()), ingest.WithClock(clock()))

	report, err := pl.Refresh(ctx, f.plan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write ingested rows to store")
	assert.Equal(t, store.RunFailed, report.Status)
	assert.Equal(t, 2, report.EventsWritten)

	run, err := f.store.GetRun(ctx, "ingest-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, 1, run.ErrorsCount)
	assert.Equal(t, 2, run.EventsWritten)

	var summary map[string]string
	require.NoError(t, json.Unmarshal(run.ErrorSummary, &summary))
	assert.Contains(t, summary["message"], "database is locked")

	wms, err := f.store.ListWatermarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, wms)
}

func TestRefresh_WatermarkFailureKeepsEvents(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	faulty := &faultyStore{Store: f.store, watermarkErr: errors.New("constraint failed")}
	pl := ingest.NewPipeline(faulty, ingest.WithRunID(sequentialIDs()))

	_, err := pl.Refresh(ctx, f.plan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update source watermarks")

	n, err := f.store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	run, err := f.store.GetRun(ctx, "ingest-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Equal(t, 4, run.EventsWritten)
}

func TestRefresh_SuccessFinalizeFailureMarksRunFailed(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	spans := tracetest.NewSpanRecorder()
	obs, err := observability.NewWithProviders(
		sdkmetric.NewMeterProvider(),
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
	)
	require.NoError(t, err)
	faulty := &faultyStore{Store: f.store, finalizeErr: errors.New("disk I/O error")}
	pl := ingest.NewPipeline(faulty, ingest.WithRunID(sequentialIDs()), ingest.WithMetrics(obs))

	report, err := pl.Refresh(ctx, f.plan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to finalize ingest run")
	assert.Equal(t, store.RunFailed, report.Status)
	assert.Equal(t, 1, report.ErrorsCount)

	run, err := f.store.GetRun(ctx, "ingest-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, run.Status, "run row must not stay running")
	assert.Equal(t, 3, run.EventsWritten)

	require.Len(t, spans.Ended(), 1)
	assert.Equal(t, codes.Error, spans.Ended()[0].Status().Code)
}

func TestRefresh_RecordsMetrics(t *testing.T) {
	f := newFixture(t, 3)
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	obs, err := observability.NewWithProviders(
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
	)
	require.NoError(t, err)

	pl := ingest.NewPipeline(f.store, ingest.WithMetrics(obs))
	_, err = pl.Refresh(context.Background(), f.plan())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name == observability.MetricEventsWritten {
			sum := m.Data.(metricdata.Sum[int64])
			assert.Equal(t, int64(3), sum.DataPoints[0].Value)
		}
	}
	require.Len(t, spans.Ended(), 1)
	assert.Equal(t, "ingest.refresh", spans.Ended()[0].Name())
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	report := ingest.Report{
		IngestRunID:        "ingest-1",
		SourceRoot:         "/logs",
		Status:             store.RunSuccess,
		StartedAt:          t0,
		FinishedAt:         t0.Add(1500 * time.Millisecond),
		DurationMs:         1500,
		EventsRead:         4,
		EventsWritten:      3,
		EventsSkipped:      1,
		WarningsCount:      1,
		WatermarksUpserted: 2,
		WatermarkState:     watermark.RunStale,
		Warnings:           []string{"line 2: bad"},
	}
	path, err := ingest.WriteReport(dir, report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ingest", "report.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"schema": "logit.ingest-report.v1",
		"ingest_run_id": "ingest-1",
		"status": "success",
		"source_root": "/logs",
		"started_at": "2026-03-01T12:00:00.000Z",
		"finished_at": "2026-03-01T12:00:01.500Z",
		"duration_ms": 1500,
		"counts": {"read": 4, "inserted": 3, "updated": 0, "skipped": 1},
		"watermarks": {"sources_upserted": 2, "staleness_state": "stale"},
		"warnings_count": 1,
		"errors_count": 0,
		"warnings": ["line 2: bad"]
	}`, string(raw))
}
