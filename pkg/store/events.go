package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// DefaultBatchSize is the number of events committed per transaction.
const DefaultBatchSize = 500

// EventColumns lists agentlog_events columns in insert order.
var EventColumns = []string{
	"schema_version", "event_id", "run_id", "sequence_global", "sequence_source",
	"source_kind", "source_path", "source_record_locator", "source_record_hash",
	"adapter_name", "adapter_version", "record_format", "event_type", "role",
	"timestamp_utc", "timestamp_unix_ms", "timestamp_quality",
	"session_id", "conversation_id", "turn_id", "parent_event_id",
	"actor_id", "actor_name", "provider", "model",
	"content_text", "content_excerpt", "content_mime",
	"tool_name", "tool_call_id", "tool_arguments_json", "tool_result_text",
	"input_tokens", "output_tokens", "total_tokens", "cost_usd",
	"tags_json", "flags_json", "pii_redacted", "warnings_json", "errors_json",
	"raw_hash", "canonical_hash", "metadata_json",
}

var insertEventSQL = buildInsertEventSQL()

func buildInsertEventSQL() string {
	placeholders := make([]string, len(EventColumns))
	var updates []string
	for i, col := range EventColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "event_id" {
			updates = append(updates, col+" = excluded."+col)
		}
	}
	return fmt.Sprintf(
		"INSERT INTO agentlog_events (%s) VALUES (%s) ON CONFLICT(event_id) DO UPDATE SET %s",
		strings.Join(EventColumns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

// WriteStats reports how much of an event set reached the store.
type WriteStats struct {
	InputRecords     int
	RecordsWritten   int
	BatchesCommitted int
}

// WriteEvents upserts events keyed by event_id in batches of batchSize,
// one transaction per batch. A failing batch is rolled back; batches
// committed before it stay committed and are counted in the returned stats.
func (s *Store) WriteEvents(ctx context.Context, events []agentlog.Event, batchSize int) (WriteStats, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	stats := WriteStats{InputRecords: len(events)}

	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := s.writeBatch(ctx, events[start:end]); err != nil {
			return stats, err
		}
		stats.RecordsWritten += end - start
		stats.BatchesCommitted++
	}

	s.logger.DebugContext(ctx, "events written",
		"records", stats.RecordsWritten,
		"batches", stats.BatchesCommitted,
	)
	return stats, nil
}

func (s *Store) writeBatch(ctx context.Context, batch []agentlog.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to open batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range batch {
		values, err := eventValues(&batch[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("failed to insert event_id=%s: %w", batch[i].EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch transaction: %w", err)
	}
	return nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agentlog_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// eventValues maps an event to EventColumns. JSON-valued columns hold the
// encoded list or map; empty lists encode as [] and empty metadata as {}.
func eventValues(e *agentlog.Event) ([]any, error) {
	seqGlobal, err := toInt64(e.SequenceGlobal, "sequence_global")
	if err != nil {
		return nil, err
	}
	ts, err := toInt64(e.TimestampUnixMs, "timestamp_unix_ms")
	if err != nil {
		return nil, err
	}
	seqSource, err := optInt64(e.SequenceSource, "sequence_source")
	if err != nil {
		return nil, err
	}
	inTok, err := optInt64(e.InputTokens, "input_tokens")
	if err != nil {
		return nil, err
	}
	outTok, err := optInt64(e.OutputTokens, "output_tokens")
	if err != nil {
		return nil, err
	}
	totTok, err := optInt64(e.TotalTokens, "total_tokens")
	if err != nil {
		return nil, err
	}

	tags, err := jsonList(e.Tags)
	if err != nil {
		return nil, err
	}
	flags, err := jsonList(e.Flags)
	if err != nil {
		return nil, err
	}
	warnings, err := jsonList(e.Warnings)
	if err != nil {
		return nil, err
	}
	errs, err := jsonList(e.Errors)
	if err != nil {
		return nil, err
	}
	metadata := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata for event_id=%s: %w", e.EventID, err)
		}
		metadata = string(b)
	}

	var cost any
	if e.CostUSD != nil {
		cost = *e.CostUSD
	}
	var pii any
	if e.PIIRedacted != nil {
		if *e.PIIRedacted {
			pii = int64(1)
		} else {
			pii = int64(0)
		}
	}

	return []any{
		agentlog.SchemaVersion,
		e.EventID,
		e.RunID,
		seqGlobal,
		seqSource,
		string(e.SourceKind),
		e.SourcePath,
		e.SourceRecordLocator,
		optString(e.SourceRecordHash),
		string(e.AdapterName),
		optString(e.AdapterVersion),
		string(e.RecordFormat),
		string(e.EventType),
		string(e.Role),
		e.TimestampUTC,
		ts,
		string(e.TimestampQuality),
		optString(e.SessionID),
		optString(e.ConversationID),
		optString(e.TurnID),
		optString(e.ParentEventID),
		optString(e.ActorID),
		optString(e.ActorName),
		optString(e.Provider),
		optString(e.Model),
		optString(e.ContentText),
		optString(e.ContentExcerpt),
		optString(e.ContentMime),
		optString(e.ToolName),
		optString(e.ToolCallID),
		optString(e.ToolArgumentsJSON),
		optString(e.ToolResultText),
		inTok,
		outTok,
		totTok,
		cost,
		tags,
		flags,
		pii,
		warnings,
		errs,
		e.RawHash,
		e.CanonicalHash,
		metadata,
	}, nil
}

func toInt64(v uint64, field string) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%s exceeds INTEGER range", field)
	}
	return int64(v), nil
}

func optInt64(v *uint64, field string) (any, error) {
	if v == nil {
		return nil, nil
	}
	return toInt64(*v, field)
}

func optString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func jsonList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
