package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hoangnb24/logit-sub000/pkg/watermark"
)

// WatermarkRow is one row of ingest_watermarks.
type WatermarkRow struct {
	SourceKey      string          `json:"source_key"`
	SourceKind     string          `json:"source_kind"`
	SourcePath     string          `json:"source_path"`
	Locator        *string         `json:"source_record_locator,omitempty"`
	Hash           *string         `json:"source_record_hash,omitempty"`
	TimestampMs    *uint64         `json:"last_event_timestamp_unix_ms,omitempty"`
	LastRunID      *string         `json:"last_ingest_run_id,omitempty"`
	RefreshedAt    string          `json:"refreshed_at_utc"`
	StalenessState string          `json:"staleness_state"`
	Metadata       json.RawMessage `json:"metadata"`
}

// ListWatermarks returns every watermark ordered by source key.
func (s *Store) ListWatermarks(ctx context.Context) ([]WatermarkRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_key, source_kind, source_path, source_record_locator, source_record_hash,
			last_event_timestamp_unix_ms, last_ingest_run_id, refreshed_at_utc, staleness_state, metadata_json
		FROM ingest_watermarks
		ORDER BY source_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []WatermarkRow
	for rows.Next() {
		var (
			w                    WatermarkRow
			locator, hash, runID sql.NullString
			ts                   sql.NullInt64
			metadata             string
		)
		if err := rows.Scan(&w.SourceKey, &w.SourceKind, &w.SourcePath, &locator, &hash,
			&ts, &runID, &w.RefreshedAt, &w.StalenessState, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		w.Locator = nullString(locator)
		w.Hash = nullString(hash)
		w.LastRunID = nullString(runID)
		if ts.Valid && ts.Int64 >= 0 {
			v := uint64(ts.Int64)
			w.TimestampMs = &v
		}
		w.Metadata = json.RawMessage(metadata)
		out = append(out, w)
	}
	return out, rows.Err()
}

// LoadWatermarks returns the persisted snapshot keyed by source key, in
// the shape the watermark tracker consumes.
func (s *Store) LoadWatermarks(ctx context.Context) (map[string]watermark.Prior, error) {
	rows, err := s.ListWatermarks(ctx)
	if err != nil {
		return nil, err
	}
	prior := make(map[string]watermark.Prior, len(rows))
	for _, w := range rows {
		prior[w.SourceKey] = watermark.Prior{
			Locator:     w.Locator,
			Hash:        w.Hash,
			TimestampMs: w.TimestampMs,
			State:       watermark.State(w.StalenessState),
		}
	}
	return prior, nil
}

// ApplyWatermarkPlan persists a plan. Each row is written in its own
// statement; on error the rows already written stay written. It returns
// the number of sources upserted.
func (s *Store) ApplyWatermarkPlan(ctx context.Context, plan watermark.Plan) (int, error) {
	upserted := 0
	for _, u := range plan.Upserts {
		metadata, err := json.Marshal(u.Metadata)
		if err != nil {
			return upserted, fmt.Errorf("failed to encode watermark metadata for %s: %w", u.SourceKey, err)
		}
		ts, err := toInt64(u.TimestampMs, "last_event_timestamp_unix_ms")
		if err != nil {
			return upserted, err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO ingest_watermarks (source_key, source_kind, source_path, source_record_locator,
				source_record_hash, last_event_timestamp_unix_ms, last_ingest_run_id, refreshed_at_utc,
				staleness_state, metadata_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT(source_key) DO UPDATE SET
				source_kind = excluded.source_kind,
				source_path = excluded.source_path,
				source_record_locator = excluded.source_record_locator,
				source_record_hash = excluded.source_record_hash,
				last_event_timestamp_unix_ms = excluded.last_event_timestamp_unix_ms,
				last_ingest_run_id = excluded.last_ingest_run_id,
				refreshed_at_utc = excluded.refreshed_at_utc,
				staleness_state = excluded.staleness_state,
				metadata_json = excluded.metadata_json`,
			u.SourceKey, string(u.SourceKind), u.SourcePath, u.Locator, optString(u.Hash),
			ts, u.RunID, FormatTime(u.RefreshedAt), string(u.State), string(metadata),
		)
		if err != nil {
			return upserted, fmt.Errorf("failed to upsert watermark %s: %w", u.SourceKey, err)
		}
		upserted++
	}

	for _, m := range plan.StaleMarks {
		metadata, err := json.Marshal(m.Metadata)
		if err != nil {
			return upserted, fmt.Errorf("failed to encode watermark metadata for %s: %w", m.SourceKey, err)
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE ingest_watermarks
			SET staleness_state = $2, metadata_json = $3
			WHERE source_key = $1`,
			m.SourceKey, string(watermark.StateStale), string(metadata),
		)
		if err != nil {
			return upserted, fmt.Errorf("failed to mark watermark %s stale: %w", m.SourceKey, err)
		}
	}

	s.logger.InfoContext(ctx, "watermarks applied",
		"upserted", upserted,
		"stale", len(plan.StaleMarks),
		"run_state", string(plan.RunState),
	)
	return upserted, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
