package main

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
	"github.com/hoangnb24/logit-sub000/pkg/config"
	"github.com/hoangnb24/logit-sub000/pkg/envelope"
	"github.com/hoangnb24/logit-sub000/pkg/ingest"
	"github.com/hoangnb24/logit-sub000/pkg/store"
)

func (a *app) ingestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load normalized events into the relational mart",
	}
	cmd.AddCommand(
		a.ingestRefreshCommand(),
		a.ingestRunsCommand(),
		a.ingestWatermarksCommand(),
		a.ingestReconcileCommand(),
	)
	return cmd
}

type refreshFlags struct {
	sourceRoot string
	events     string
	failFast   bool
	batchSize  int
}

func (a *app) ingestRefreshCommand() *cobra.Command {
	var f refreshFlags
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Write events.jsonl into the mart and update source watermarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runRefresh(cmd.Context(), commandName(cmd), f)
		},
	}
	cmd.Flags().StringVar(&f.sourceRoot, "source-root", "", "Source root recorded on the run (default cwd)")
	cmd.Flags().StringVar(&f.events, "events", "", "Events artifact (default <out-dir>/events.jsonl)")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "Abort on the first malformed events line")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Events per transaction (default from config)")
	return cmd
}

func (a *app) runRefresh(ctx context.Context, command string, f refreshFlags) error {
	plan := ingest.Plan{
		EventsPath: a.paths.EventsPath(),
		SourceRoot: a.paths.CWD,
		FailFast:   f.failFast,
		BatchSize:  a.cfg.BatchSize,
	}
	if f.batchSize > 0 {
		plan.BatchSize = f.batchSize
	}
	var err error
	if f.events != "" {
		if plan.EventsPath, err = config.ResolveUserPath(f.events, a.paths.HomeDir, a.paths.CWD); err != nil {
			return runtimeFailure(command, "ingest_events_missing", err)
		}
	}
	if f.sourceRoot != "" {
		if plan.SourceRoot, err = config.ResolveUserPath(f.sourceRoot, a.paths.HomeDir, a.paths.CWD); err != nil {
			return runtimeFailure(command, "ingest_refresh_failed", err)
		}
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return runtimeFailure(command, "ingest_store_failure", err)
	}
	defer func() { _ = st.Close() }()

	obs, err := a.telemetry(ctx)
	if err != nil {
		return runtimeFailure(command, "ingest_refresh_failed", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	report, err := ingest.NewPipeline(st, ingest.WithMetrics(obs)).Refresh(ctx, plan)
	if err != nil {
		failure := runtimeFailure(command, classifyIngestError(err), err)
		failure.envelope.
			WithMeta("events_path", plan.EventsPath).
			WithMeta("db_driver", string(st.Driver())).
			WithMeta("fail_fast", plan.FailFast)
		if !report.FinishedAt.IsZero() {
			failure.envelope.WithData(report.Document())
		}
		return failure
	}

	path, err := ingest.WriteReport(a.paths.OutDir, report)
	if err != nil {
		return runtimeFailure(command, "ingest_report_artifact_write_failed", err)
	}
	return a.write(envelope.OK(command, report.Document()).
		WithMeta("artifact_path", path).
		WithMeta("events_path", plan.EventsPath).
		WithMeta("db_driver", string(st.Driver())).
		WithMeta("fail_fast", plan.FailFast).
		WithWarnings("invalid_events_row", report.Warnings))
}

func classifyIngestError(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "ingest_events_missing"
	case errors.Is(err, agentlog.ErrInvalidRow):
		return "ingest_events_invalid"
	default:
		return "ingest_store_failure"
	}
}

func (a *app) ingestRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List ingest runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(command string, st *store.Store) error {
				runs, err := st.ListRuns(cmd.Context(), limit)
				if err != nil {
					return runtimeFailure(command, "ingest_store_failure", err)
				}
				if runs == nil {
					runs = []store.Run{}
				}
				return a.write(envelope.OK(command, runs).WithMeta("count", len(runs)))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 for all)")
	return cmd
}

func (a *app) ingestWatermarksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watermarks",
		Short: "List per-source watermarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(command string, st *store.Store) error {
				rows, err := st.ListWatermarks(cmd.Context())
				if err != nil {
					return runtimeFailure(command, "ingest_store_failure", err)
				}
				if rows == nil {
					rows = []store.WatermarkRow{}
				}
				return a.write(envelope.OK(command, rows).WithMeta("count", len(rows)))
			})
		},
	}
}

func (a *app) ingestReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Finalize ingest runs left running by an interrupted process",
		Long: "Marks every ingest run still in the running state as failed. Only run this\n" +
			"when no other logit process is ingesting into the same mart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(command string, st *store.Store) error {
				ids, err := st.ReconcileOrphanedRuns(cmd.Context(), time.Now())
				if err != nil {
					return runtimeFailure(command, "ingest_store_failure", err)
				}
				if ids == nil {
					ids = []string{}
				}
				return a.write(envelope.OK(command, map[string]any{"reconciled_run_ids": ids}).
					WithMeta("count", len(ids)))
			})
		},
	}
}

// withStore opens the mart, ensures its schema and runs fn against it.
func (a *app) withStore(cmd *cobra.Command, fn func(command string, st *store.Store) error) error {
	command := commandName(cmd)
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return runtimeFailure(command, "ingest_store_failure", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(cmd.Context()); err != nil {
		return runtimeFailure(command, "ingest_store_failure", err)
	}
	return fn(command, st)
}
