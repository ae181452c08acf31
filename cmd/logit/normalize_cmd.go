package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
	"github.com/hoangnb24/logit-sub000/pkg/config"
	"github.com/hoangnb24/logit-sub000/pkg/envelope"
	"github.com/hoangnb24/logit-sub000/pkg/normalize"
)

func (a *app) normalizeCommand() *cobra.Command {
	var failFast bool
	cmd := &cobra.Command{
		Use:   "normalize <adapter-events.jsonl>...",
		Short: "Merge, deduplicate and sequence adapter event streams",
		Long: "Reads canonical events emitted by per-format adapters, collapses duplicates,\n" +
			"assigns sequence_global and writes events.jsonl, the schema and stats.json\n" +
			"under the output directory.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runNormalize(commandName(cmd), args, failFast)
		},
	}
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Abort on the first malformed input line")
	return cmd
}

func (a *app) runNormalize(command string, inputs []string, failFast bool) error {
	var (
		events   []agentlog.Event
		warnings []string
	)
	for _, input := range inputs {
		path, err := config.ResolveUserPath(input, a.paths.HomeDir, a.paths.CWD)
		if err != nil {
			return runtimeFailure(command, "normalize_input_invalid", err)
		}
		read, warns, err := agentlog.ReadFile(path, failFast)
		if err != nil {
			code := "normalize_input_unreadable"
			if errors.Is(err, agentlog.ErrInvalidRow) {
				code = "normalize_input_invalid"
			}
			return runtimeFailure(command, code, err)
		}
		for _, w := range warns {
			warnings = append(warnings, fmt.Sprintf("%s: %s", path, w))
		}
		events = append(events, read...)
	}

	merged, dedupe := normalize.DedupeAndSort(events)
	layout := normalize.NewLayout(a.paths.OutDir)
	stats, err := normalize.WriteArtifacts(layout, merged, dedupe)
	if err != nil {
		return runtimeFailure(command, "normalize_artifact_write_failed", err)
	}
	a.logger.Info("normalize finished",
		"input_records", dedupe.InputRecords,
		"records_emitted", len(merged),
		"duplicates_removed", dedupe.DuplicateRecords,
	)

	return a.write(envelope.OK(command, stats).
		WithMeta("events_path", layout.EventsJSONL).
		WithMeta("schema_path", layout.SchemaJSON).
		WithMeta("stats_path", layout.StatsJSON).
		WithMeta("fail_fast", failFast).
		WithWarnings("invalid_input_row", warnings))
}
