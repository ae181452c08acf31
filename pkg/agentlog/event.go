// Package agentlog defines the canonical agent-log event record shared by
// adapters, the normalizer and the ingest pipeline.
package agentlog

// Event is one observed occurrence in an agent log, normalized to the
// agentlog.v1 schema.
//
// SequenceGlobal is assigned only by the sequencer. Downstream components
// never rewrite EventID, RawHash or CanonicalHash.
type Event struct {
	SchemaVersion       string           `json:"schema_version"`
	EventID             string           `json:"event_id"`
	RunID               string           `json:"run_id"`
	SequenceGlobal      uint64           `json:"sequence_global"`
	SequenceSource      *uint64          `json:"sequence_source,omitempty"`
	SourceKind          SourceKind       `json:"source_kind"`
	SourcePath          string           `json:"source_path"`
	SourceRecordLocator string           `json:"source_record_locator"`
	SourceRecordHash    *string          `json:"source_record_hash,omitempty"`
	AdapterName         SourceKind       `json:"adapter_name"`
	AdapterVersion      *string          `json:"adapter_version,omitempty"`
	RecordFormat        RecordFormat     `json:"record_format"`
	EventType           EventType        `json:"event_type"`
	Role                Role             `json:"role"`
	TimestampUTC        string           `json:"timestamp_utc"`
	TimestampUnixMs     uint64           `json:"timestamp_unix_ms"`
	TimestampQuality    TimestampQuality `json:"timestamp_quality"`
	SessionID           *string          `json:"session_id,omitempty"`
	ConversationID      *string          `json:"conversation_id,omitempty"`
	TurnID              *string          `json:"turn_id,omitempty"`
	ParentEventID       *string          `json:"parent_event_id,omitempty"`
	ActorID             *string          `json:"actor_id,omitempty"`
	ActorName           *string          `json:"actor_name,omitempty"`
	Provider            *string          `json:"provider,omitempty"`
	Model               *string          `json:"model,omitempty"`
	ContentText         *string          `json:"content_text,omitempty"`
	ContentExcerpt      *string          `json:"content_excerpt,omitempty"`
	ContentMime         *string          `json:"content_mime,omitempty"`
	ToolName            *string          `json:"tool_name,omitempty"`
	ToolCallID          *string          `json:"tool_call_id,omitempty"`
	ToolArgumentsJSON   *string          `json:"tool_arguments_json,omitempty"`
	ToolResultText      *string          `json:"tool_result_text,omitempty"`
	InputTokens         *uint64          `json:"input_tokens,omitempty"`
	OutputTokens        *uint64          `json:"output_tokens,omitempty"`
	TotalTokens         *uint64          `json:"total_tokens,omitempty"`
	CostUSD             *float64         `json:"cost_usd,omitempty"`
	Tags                []string         `json:"tags,omitempty"`
	Flags               []string         `json:"flags,omitempty"`
	PIIRedacted         *bool            `json:"pii_redacted,omitempty"`
	Warnings            []string         `json:"warnings,omitempty"`
	Errors              []string         `json:"errors,omitempty"`
	RawHash             string           `json:"raw_hash"`
	CanonicalHash       string           `json:"canonical_hash"`
	Metadata            Metadata         `json:"metadata,omitempty"`
}

// SourceKey identifies the upstream source of a record: "<kind>|<path>".
func (e *Event) SourceKey() string {
	return SourceKeyFor(e.SourceKind, e.SourcePath)
}

// SourceKeyFor builds the watermark key for a source.
func SourceKeyFor(kind SourceKind, path string) string {
	return string(kind) + "|" + path
}

// Ptr returns a pointer to v. Handy for populating optional fields.
func Ptr[T any](v T) *T { return &v }

// Deref returns the pointed-to value or the zero value.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
