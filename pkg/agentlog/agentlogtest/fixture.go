// Package agentlogtest builds well-formed canonical events for tests.
package agentlogtest

import (
	"fmt"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// Option mutates a fixture event.
type Option func(*agentlog.Event)

// Event returns a valid codex prompt event with the given id. Hashes are
// derived from the id unless overridden.
func Event(id string, opts ...Option) agentlog.Event {
	ev := agentlog.Event{
		SchemaVersion:       agentlog.SchemaVersion,
		EventID:             id,
		RunID:               "run-test",
		SourceKind:          agentlog.SourceCodex,
		SourcePath:          "/logs/codex/session.jsonl",
		SourceRecordLocator: "line:1",
		AdapterName:         agentlog.SourceCodex,
		RecordFormat:        agentlog.FormatMessage,
		EventType:           agentlog.EventPrompt,
		Role:                agentlog.RoleUser,
		TimestampUnixMs:     1_700_000_000_000,
		TimestampQuality:    agentlog.QualityExact,
		RawHash:             agentlog.HashBytes([]byte("raw:" + id)),
		CanonicalHash:       agentlog.HashBytes([]byte("canonical:" + id)),
	}
	for _, opt := range opts {
		opt(&ev)
	}
	ev.TimestampUTC = agentlog.FormatUnixMs(ev.TimestampUnixMs)
	return ev
}

func WithSource(kind agentlog.SourceKind, path, locator string) Option {
	return func(e *agentlog.Event) {
		e.SourceKind = kind
		e.AdapterName = kind
		e.SourcePath = path
		e.SourceRecordLocator = locator
	}
}

func WithLocator(locator string) Option {
	return func(e *agentlog.Event) { e.SourceRecordLocator = locator }
}

func WithTimestamp(ms uint64) Option {
	return func(e *agentlog.Event) { e.TimestampUnixMs = ms }
}

func WithQuality(q agentlog.TimestampQuality) Option {
	return func(e *agentlog.Event) { e.TimestampQuality = q }
}

func WithCanonicalHash(h string) Option {
	return func(e *agentlog.Event) { e.CanonicalHash = h }
}

func WithRawHash(h string) Option {
	return func(e *agentlog.Event) { e.RawHash = h }
}

func WithSourceRecordHash(h string) Option {
	return func(e *agentlog.Event) { e.SourceRecordHash = agentlog.Ptr(h) }
}

func WithContent(text string) Option {
	return func(e *agentlog.Event) { e.ContentText = agentlog.Ptr(text) }
}

func WithConversation(conversationID, turnID string) Option {
	return func(e *agentlog.Event) {
		e.ConversationID = agentlog.Ptr(conversationID)
		e.TurnID = agentlog.Ptr(turnID)
	}
}

func WithSequenceSource(n uint64) Option {
	return func(e *agentlog.Event) { e.SequenceSource = agentlog.Ptr(n) }
}

func WithRole(r agentlog.Role) Option {
	return func(e *agentlog.Event) { e.Role = r }
}

func WithEventType(t agentlog.EventType, f agentlog.RecordFormat) Option {
	return func(e *agentlog.Event) {
		e.EventType = t
		e.RecordFormat = f
	}
}

func WithAdapterVersion(v string) Option {
	return func(e *agentlog.Event) { e.AdapterVersion = agentlog.Ptr(v) }
}

// WithMetadataKeys attaches n placeholder metadata keys.
func WithMetadataKeys(n int) Option {
	return func(e *agentlog.Event) {
		if e.Metadata == nil {
			e.Metadata = agentlog.Metadata{}
		}
		for i := 0; i < n; i++ {
			e.Metadata.Set(fmt.Sprintf("k%02d", i), agentlog.Int(int64(i)))
		}
	}
}
