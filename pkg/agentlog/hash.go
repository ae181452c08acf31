package agentlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashBytes returns the SHA-256 hex digest of raw bytes. Adapters use it
// for raw_hash over the untouched source record.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalHash returns the SHA-256 hex digest of the RFC 8785 canonical
// JSON form of v.
func CanonicalHash(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: marshal: %w", err)
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return "", fmt.Errorf("canonical hash: jcs: %w", err)
	}
	return HashBytes(canonical), nil
}

// Projection is the stable subset of fields that identifies an occurrence
// independently of where and how often it was parsed.
type Projection struct {
	SourceKind     SourceKind   `json:"source_kind"`
	RecordFormat   RecordFormat `json:"record_format"`
	EventType      EventType    `json:"event_type"`
	Role           Role         `json:"role"`
	TimestampMs    uint64       `json:"timestamp_unix_ms"`
	SessionID      string       `json:"session_id,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	TurnID         string       `json:"turn_id,omitempty"`
	ToolCallID     string       `json:"tool_call_id,omitempty"`
	ContentText    string       `json:"content_text,omitempty"`
}

// ProjectionOf extracts the identifying projection of e.
func ProjectionOf(e *Event) Projection {
	return Projection{
		SourceKind:     e.SourceKind,
		RecordFormat:   e.RecordFormat,
		EventType:      e.EventType,
		Role:           e.Role,
		TimestampMs:    e.TimestampUnixMs,
		SessionID:      Deref(e.SessionID),
		ConversationID: Deref(e.ConversationID),
		TurnID:         Deref(e.TurnID),
		ToolCallID:     Deref(e.ToolCallID),
		ContentText:    Deref(e.ContentText),
	}
}
