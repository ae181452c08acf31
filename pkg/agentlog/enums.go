package agentlog

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidEnum is returned when a record carries a value outside one of the closed enums.
var ErrInvalidEnum = errors.New("invalid enum value")

// SourceKind identifies the agent family a record came from. It is used for
// both source_kind and adapter_name.
type SourceKind string

const (
	SourceCodex    SourceKind = "codex"
	SourceClaude   SourceKind = "claude"
	SourceGemini   SourceKind = "gemini"
	SourceAmp      SourceKind = "amp"
	SourceOpenCode SourceKind = "opencode"
)

// AllSourceKinds lists every agent family in canonical order.
func AllSourceKinds() []SourceKind {
	return []SourceKind{SourceCodex, SourceClaude, SourceGemini, SourceAmp, SourceOpenCode}
}

// Valid reports whether k is a known agent family.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceCodex, SourceClaude, SourceGemini, SourceAmp, SourceOpenCode:
		return true
	default:
		return false
	}
}

func (k SourceKind) MarshalJSON() ([]byte, error) { return marshalEnum(string(k), k.Valid()) }

func (k *SourceKind) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "source kind", func(s string) bool {
		*k = SourceKind(s)
		return k.Valid()
	})
}

// RecordFormat is the structural shape of a record.
type RecordFormat string

const (
	FormatMessage    RecordFormat = "message"
	FormatToolCall   RecordFormat = "tool_call"
	FormatToolResult RecordFormat = "tool_result"
	FormatSystem     RecordFormat = "system"
	FormatDiagnostic RecordFormat = "diagnostic"
)

// AllRecordFormats lists every record format in canonical order.
func AllRecordFormats() []RecordFormat {
	return []RecordFormat{FormatMessage, FormatToolCall, FormatToolResult, FormatSystem, FormatDiagnostic}
}

func (f RecordFormat) Valid() bool {
	switch f {
	case FormatMessage, FormatToolCall, FormatToolResult, FormatSystem, FormatDiagnostic:
		return true
	default:
		return false
	}
}

func (f RecordFormat) MarshalJSON() ([]byte, error) { return marshalEnum(string(f), f.Valid()) }

func (f *RecordFormat) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "record format", func(s string) bool {
		*f = RecordFormat(s)
		return f.Valid()
	})
}

// EventType is the semantic kind of a record.
type EventType string

const (
	EventPrompt            EventType = "prompt"
	EventResponse          EventType = "response"
	EventSystemNotice      EventType = "system_notice"
	EventToolInvocation    EventType = "tool_invocation"
	EventToolOutput        EventType = "tool_output"
	EventStatusUpdate      EventType = "status_update"
	EventError             EventType = "error"
	EventMetric            EventType = "metric"
	EventArtifactReference EventType = "artifact_reference"
	EventDebugLog          EventType = "debug_log"
)

// AllEventTypes lists every event type in canonical order.
func AllEventTypes() []EventType {
	return []EventType{
		EventPrompt, EventResponse, EventSystemNotice, EventToolInvocation, EventToolOutput,
		EventStatusUpdate, EventError, EventMetric, EventArtifactReference, EventDebugLog,
	}
}

func (t EventType) Valid() bool {
	switch t {
	case EventPrompt, EventResponse, EventSystemNotice, EventToolInvocation, EventToolOutput,
		EventStatusUpdate, EventError, EventMetric, EventArtifactReference, EventDebugLog:
		return true
	default:
		return false
	}
}

func (t EventType) MarshalJSON() ([]byte, error) { return marshalEnum(string(t), t.Valid()) }

func (t *EventType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "event type", func(s string) bool {
		*t = EventType(s)
		return t.Valid()
	})
}

// Role is the actor that produced a record.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleRuntime   Role = "runtime"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleRuntime:
		return true
	default:
		return false
	}
}

func (r Role) MarshalJSON() ([]byte, error) { return marshalEnum(string(r), r.Valid()) }

func (r *Role) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "role", func(s string) bool {
		*r = Role(s)
		return r.Valid()
	})
}

// TimestampQuality describes how trustworthy a record's timestamp is.
// Preference order is exact > derived > fallback.
type TimestampQuality string

const (
	QualityExact    TimestampQuality = "exact"
	QualityDerived  TimestampQuality = "derived"
	QualityFallback TimestampQuality = "fallback"
)

// AllTimestampQualities lists every quality from most to least trusted.
func AllTimestampQualities() []TimestampQuality {
	return []TimestampQuality{QualityExact, QualityDerived, QualityFallback}
}

// Rank orders qualities: exact=0, derived=1, fallback=2. Lower is better.
func (q TimestampQuality) Rank() int {
	switch q {
	case QualityExact:
		return 0
	case QualityDerived:
		return 1
	case QualityFallback:
		return 2
	default:
		panic(fmt.Sprintf("agentlog: unranked timestamp quality %q", string(q)))
	}
}

func (q TimestampQuality) Valid() bool {
	switch q {
	case QualityExact, QualityDerived, QualityFallback:
		return true
	default:
		return false
	}
}

func (q TimestampQuality) MarshalJSON() ([]byte, error) { return marshalEnum(string(q), q.Valid()) }

func (q *TimestampQuality) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, "timestamp quality", func(s string) bool {
		*q = TimestampQuality(s)
		return q.Valid()
	})
}

// SchemaVersion is the only accepted record schema version.
const SchemaVersion = "agentlog.v1"

func marshalEnum(value string, valid bool) ([]byte, error) {
	if !valid {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEnum, value)
	}
	return json.Marshal(value)
}

func unmarshalEnum(data []byte, name string, assign func(string) bool) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !assign(s) {
		return fmt.Errorf("%w: unknown %s %q", ErrInvalidEnum, name, s)
	}
	return nil
}
