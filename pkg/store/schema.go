package store

import (
	"context"
	"fmt"
	"strings"
)

// SchemaVersion identifies the relational layout written by EnsureSchema.
const SchemaVersion = "agentlog.v1.sqlite.v1"

const (
	EventsTable     = "agentlog_events"
	RunsTable       = "ingest_runs"
	WatermarksTable = "ingest_watermarks"
	SchemaMetaTable = "agentlog_schema_meta"
)

const eventsTableSQL = `
CREATE TABLE IF NOT EXISTS agentlog_events (
    schema_version TEXT NOT NULL,
    event_id TEXT NOT NULL PRIMARY KEY,
    run_id TEXT NOT NULL,
    sequence_global {{INT}} NOT NULL,
    sequence_source {{INT}},
    source_kind TEXT NOT NULL,
    source_path TEXT NOT NULL,
    source_record_locator TEXT NOT NULL,
    source_record_hash TEXT,
    adapter_name TEXT NOT NULL,
    adapter_version TEXT,
    record_format TEXT NOT NULL,
    event_type TEXT NOT NULL,
    role TEXT NOT NULL,
    timestamp_utc TEXT NOT NULL,
    timestamp_unix_ms {{INT}} NOT NULL,
    timestamp_quality TEXT NOT NULL,
    session_id TEXT,
    conversation_id TEXT,
    turn_id TEXT,
    parent_event_id TEXT,
    actor_id TEXT,
    actor_name TEXT,
    provider TEXT,
    model TEXT,
    content_text TEXT,
    content_excerpt TEXT,
    content_mime TEXT,
    tool_name TEXT,
    tool_call_id TEXT,
    tool_arguments_json TEXT,
    tool_result_text TEXT,
    input_tokens {{INT}},
    output_tokens {{INT}},
    total_tokens {{INT}},
    cost_usd {{REAL}},
    tags_json TEXT NOT NULL DEFAULT '[]',
    flags_json TEXT NOT NULL DEFAULT '[]',
    pii_redacted {{INT}},
    warnings_json TEXT NOT NULL DEFAULT '[]',
    errors_json TEXT NOT NULL DEFAULT '[]',
    raw_hash TEXT NOT NULL,
    canonical_hash TEXT NOT NULL,
    metadata_json TEXT NOT NULL DEFAULT '{}',
    CHECK (schema_version = 'agentlog.v1'),
    CHECK (source_kind IN ('codex', 'claude', 'gemini', 'amp', 'opencode')),
    CHECK (adapter_name IN ('codex', 'claude', 'gemini', 'amp', 'opencode')),
    CHECK (record_format IN ('message', 'tool_call', 'tool_result', 'system', 'diagnostic')),
    CHECK (event_type IN ('prompt', 'response', 'system_notice', 'tool_invocation', 'tool_output',
        'status_update', 'error', 'metric', 'artifact_reference', 'debug_log')),
    CHECK (role IN ('user', 'assistant', 'system', 'tool', 'runtime')),
    CHECK (timestamp_quality IN ('exact', 'derived', 'fallback')),
    CHECK (pii_redacted IN (0, 1) OR pii_redacted IS NULL)
)`

const runsTableSQL = `
CREATE TABLE IF NOT EXISTS ingest_runs (
    ingest_run_id TEXT NOT NULL PRIMARY KEY,
    started_at_utc TEXT NOT NULL,
    finished_at_utc TEXT,
    status TEXT NOT NULL,
    source_root TEXT NOT NULL,
    events_read {{INT}} NOT NULL DEFAULT 0,
    events_written {{INT}} NOT NULL DEFAULT 0,
    warnings_count {{INT}} NOT NULL DEFAULT 0,
    errors_count {{INT}} NOT NULL DEFAULT 0,
    error_summary_json TEXT NOT NULL DEFAULT '{}',
    CHECK (status IN ('running', 'success', 'partial_failure', 'failed')),
    CHECK (events_read >= 0),
    CHECK (events_written >= 0),
    CHECK (warnings_count >= 0),
    CHECK (errors_count >= 0)
)`

const watermarksTableSQL = `
CREATE TABLE IF NOT EXISTS ingest_watermarks (
    source_key TEXT NOT NULL PRIMARY KEY,
    source_kind TEXT NOT NULL,
    source_path TEXT NOT NULL,
    source_record_locator TEXT,
    source_record_hash TEXT,
    last_event_timestamp_unix_ms {{INT}},
    last_ingest_run_id TEXT REFERENCES ingest_runs (ingest_run_id),
    refreshed_at_utc TEXT NOT NULL,
    staleness_state TEXT NOT NULL DEFAULT 'unknown',
    metadata_json TEXT NOT NULL DEFAULT '{}',
    CHECK (source_kind IN ('codex', 'claude', 'gemini', 'amp', 'opencode')),
    CHECK (staleness_state IN ('fresh', 'stale', 'unknown')),
    CHECK (last_event_timestamp_unix_ms IS NULL OR last_event_timestamp_unix_ms >= 0)
)`

const schemaMetaTableSQL = `
CREATE TABLE IF NOT EXISTS agentlog_schema_meta (
    schema_version TEXT NOT NULL,
    applied_at_utc TEXT NOT NULL
)`

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_agentlog_events_run_sequence ON agentlog_events (run_id, sequence_global)`,
	`CREATE INDEX IF NOT EXISTS idx_agentlog_events_timestamp ON agentlog_events (timestamp_unix_ms, sequence_global)`,
	`CREATE INDEX IF NOT EXISTS idx_agentlog_events_adapter_event ON agentlog_events (adapter_name, event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_agentlog_events_source ON agentlog_events (source_kind, source_path, source_record_locator)`,
	`CREATE INDEX IF NOT EXISTS idx_agentlog_events_hashes ON agentlog_events (canonical_hash, raw_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_agentlog_events_session_time ON agentlog_events (session_id, timestamp_unix_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_ingest_runs_status_time ON ingest_runs (status, started_at_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_ingest_watermarks_source ON ingest_watermarks (source_kind, source_path)`,
	`CREATE INDEX IF NOT EXISTS idx_ingest_watermarks_refresh ON ingest_watermarks (refreshed_at_utc, staleness_state)`,
}

// Tool calls paired with their first result by (run_id, tool_call_id).
// Results without a matching call are reported as orphan_result.
const toolCallsViewSQL = `{{VIEW}} v_tool_calls AS
WITH call_events AS (
    SELECT event_id AS call_event_id, run_id, session_id, conversation_id, turn_id,
        adapter_name, source_kind, tool_name, tool_call_id,
        timestamp_unix_ms AS call_timestamp_unix_ms
    FROM agentlog_events
    WHERE record_format = 'tool_call'
),
result_events AS (
    SELECT event_id AS result_event_id, run_id, session_id, conversation_id, turn_id,
        adapter_name, source_kind, tool_name, tool_call_id,
        timestamp_unix_ms AS result_timestamp_unix_ms
    FROM agentlog_events
    WHERE record_format = 'tool_result'
),
ranked_results AS (
    SELECT result_events.*,
        ROW_NUMBER() OVER (
            PARTITION BY run_id, tool_call_id
            ORDER BY result_timestamp_unix_ms ASC, result_event_id ASC
        ) AS result_rank
    FROM result_events
    WHERE tool_call_id IS NOT NULL AND tool_call_id != ''
)
SELECT
    c.run_id, c.session_id, c.conversation_id, c.turn_id, c.adapter_name, c.source_kind,
    COALESCE(c.tool_name, r.tool_name) AS tool_name,
    c.tool_call_id, c.call_event_id, r.result_event_id,
    c.call_timestamp_unix_ms, r.result_timestamp_unix_ms,
    CASE
        WHEN r.result_timestamp_unix_ms IS NULL THEN NULL
        WHEN r.result_timestamp_unix_ms < c.call_timestamp_unix_ms THEN NULL
        ELSE r.result_timestamp_unix_ms - c.call_timestamp_unix_ms
    END AS duration_ms,
    CASE
        WHEN r.result_timestamp_unix_ms IS NULL THEN 'missing_result'
        WHEN r.result_timestamp_unix_ms < c.call_timestamp_unix_ms THEN 'invalid_order'
        ELSE 'paired'
    END AS pairing_status
FROM call_events c
LEFT JOIN ranked_results r
    ON r.run_id = c.run_id AND r.tool_call_id = c.tool_call_id AND r.result_rank = 1
UNION ALL
SELECT
    re.run_id, re.session_id, re.conversation_id, re.turn_id, re.adapter_name, re.source_kind,
    re.tool_name, re.tool_call_id, NULL, re.result_event_id,
    NULL, re.result_timestamp_unix_ms, NULL, 'orphan_result'
FROM result_events re
LEFT JOIN call_events c2
    ON c2.run_id = re.run_id AND c2.tool_call_id = re.tool_call_id
WHERE c2.call_event_id IS NULL`

const sessionsViewSQL = `{{VIEW}} v_sessions AS
SELECT
    run_id,
    session_id,
    MIN(timestamp_unix_ms) AS first_event_timestamp_unix_ms,
    MAX(timestamp_unix_ms) AS last_event_timestamp_unix_ms,
    MAX(timestamp_unix_ms) - MIN(timestamp_unix_ms) AS duration_ms,
    COUNT(*) AS event_count,
    SUM(CASE WHEN record_format = 'tool_call' THEN 1 ELSE 0 END) AS tool_call_count,
    SUM(CASE WHEN record_format = 'tool_result' THEN 1 ELSE 0 END) AS tool_result_count,
    SUM(CASE WHEN event_type = 'prompt' THEN 1 ELSE 0 END) AS prompt_count,
    SUM(CASE WHEN event_type = 'response' THEN 1 ELSE 0 END) AS response_count,
    SUM(CASE WHEN event_type = 'error' THEN 1 ELSE 0 END) AS error_count,
    COUNT(DISTINCT conversation_id) AS distinct_conversation_count,
    COUNT(DISTINCT turn_id) AS distinct_turn_count,
    COUNT(DISTINCT tool_name) AS distinct_tool_count,
    COUNT(DISTINCT adapter_name) AS distinct_adapter_count
FROM agentlog_events
WHERE session_id IS NOT NULL AND session_id != ''
GROUP BY run_id, session_id`

const adaptersViewSQL = `{{VIEW}} v_adapters AS
SELECT
    adapter_name,
    COUNT(*) AS event_count,
    COUNT(DISTINCT run_id) AS run_count,
    COUNT(DISTINCT session_id) AS session_count,
    MIN(timestamp_unix_ms) AS first_event_timestamp_unix_ms,
    MAX(timestamp_unix_ms) AS last_event_timestamp_unix_ms,
    SUM(CASE WHEN event_type = 'prompt' THEN 1 ELSE 0 END) AS prompt_count,
    SUM(CASE WHEN event_type = 'response' THEN 1 ELSE 0 END) AS response_count,
    SUM(CASE WHEN record_format = 'tool_call' THEN 1 ELSE 0 END) AS tool_call_count,
    SUM(CASE WHEN record_format = 'tool_result' THEN 1 ELSE 0 END) AS tool_result_count,
    SUM(CASE WHEN event_type = 'error' THEN 1 ELSE 0 END) AS error_event_count,
    SUM(CASE WHEN warnings_json != '[]' THEN 1 ELSE 0 END) AS warning_record_count,
    SUM(CASE WHEN errors_json != '[]' THEN 1 ELSE 0 END) AS error_record_count,
    SUM(CASE WHEN pii_redacted = 1 THEN 1 ELSE 0 END) AS pii_redacted_count
FROM agentlog_events
GROUP BY adapter_name`

const qualityViewSQL = `{{VIEW}} v_quality AS
SELECT
    adapter_name,
    timestamp_quality,
    COUNT(*) AS event_count,
    SUM(CASE WHEN warnings_json != '[]' THEN 1 ELSE 0 END) AS warning_record_count,
    SUM(CASE WHEN errors_json != '[]' THEN 1 ELSE 0 END) AS error_record_count,
    SUM(CASE WHEN flags_json != '[]' THEN 1 ELSE 0 END) AS flagged_record_count,
    SUM(CASE WHEN pii_redacted = 1 THEN 1 ELSE 0 END) AS pii_redacted_count
FROM agentlog_events
GROUP BY adapter_name, timestamp_quality`

// Views lists the query views created alongside the tables.
var Views = []string{"v_tool_calls", "v_sessions", "v_adapters", "v_quality"}

func (d dialect) render(stmt string) string {
	return strings.NewReplacer(
		"{{INT}}", d.integer,
		"{{REAL}}", d.real,
		"{{VIEW}}", d.createView,
	).Replace(stmt)
}

func (d dialect) schemaStatements() []string {
	stmts := []string{eventsTableSQL, runsTableSQL, watermarksTableSQL, schemaMetaTableSQL}
	stmts = append(stmts, indexStatements...)
	stmts = append(stmts, toolCallsViewSQL, sessionsViewSQL, adaptersViewSQL, qualityViewSQL)
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = d.render(s)
	}
	return out
}

// EnsureSchema creates tables, indexes and views when missing and records
// SchemaVersion once. It is safe to call on every run.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agentlog_schema_meta WHERE schema_version = $1`, SchemaVersion,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to query schema version metadata: %w", err)
	}
	if count > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agentlog_schema_meta (schema_version, applied_at_utc) VALUES ($1, $2)`,
		SchemaVersion, FormatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to write schema meta row: %w", err)
	}
	s.logger.InfoContext(ctx, "schema initialized", "schema_version", SchemaVersion)
	return nil
}

// SchemaVersions returns every recorded schema version in apply order.
func (s *Store) SchemaVersions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT schema_version FROM agentlog_schema_meta ORDER BY applied_at_utc, schema_version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
