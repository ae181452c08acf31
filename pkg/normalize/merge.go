// Package normalize reconciles overlapping adapter output into one
// deduplicated, deterministically ordered canonical event set.
package normalize

import (
	"sort"
	"strings"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// Metadata keys attached to every merged primary.
const (
	MetaDedupeCount       = "dedupe_count"
	MetaDedupeStrategy    = "dedupe_strategy"
	MetaDedupeMembers     = "dedupe_members"
	MetaProvenanceEntries = "provenance_entries"
)

// Strategy names how a bucket's grouping key was derived.
type Strategy string

const (
	StrategyCanonicalHash Strategy = "canonical_hash"
	StrategyFallbackA     Strategy = "fallback_a"
	StrategyFallbackB     Strategy = "fallback_b"
)

// DedupeStats summarizes one merge pass.
type DedupeStats struct {
	InputRecords     int `json:"input_records"`
	UniqueRecords    int `json:"unique_records"`
	DuplicateRecords int `json:"duplicate_records"`
}

type bucket struct {
	primary        agentlog.Event
	strategy       Strategy
	members        map[string]struct{}
	provenance     map[string]agentlog.Value
	provenanceKeys []string
}

// StrategyFor picks the grouping strategy for a single record.
func StrategyFor(e *agentlog.Event) Strategy {
	switch {
	case strings.TrimSpace(e.CanonicalHash) != "":
		return StrategyCanonicalHash
	case e.ConversationID != nil || e.TurnID != nil || e.ContentText != nil:
		return StrategyFallbackA
	default:
		return StrategyFallbackB
	}
}

// GroupKey returns the bucket key of e under strategy s.
func GroupKey(e *agentlog.Event, s Strategy) string {
	switch s {
	case StrategyCanonicalHash:
		return "canonical:" + e.CanonicalHash
	case StrategyFallbackA:
		return "a:" + strings.Join([]string{
			string(e.SourceKind),
			agentlog.Deref(e.ConversationID),
			agentlog.Deref(e.TurnID),
			string(e.Role),
			normalizeWhitespace(agentlog.Deref(e.ContentText)),
		}, "|")
	default:
		return "b:" + strings.Join([]string{
			string(e.SourceKind),
			e.SourcePath,
			e.SourceRecordLocator,
		}, "|")
	}
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Merge groups records describing the same occurrence into buckets and
// returns one annotated primary per bucket. Output order is unspecified;
// run Sequence to order it. Input records are not modified.
func Merge(events []agentlog.Event) ([]agentlog.Event, DedupeStats) {
	buckets := make(map[string]*bucket, len(events))
	var order []string

	for i := range events {
		ev := events[i]
		strategy := StrategyFor(&ev)
		key := GroupKey(&ev, strategy)

		b, ok := buckets[key]
		if !ok {
			b = &bucket{
				primary:    ev,
				strategy:   strategy,
				members:    map[string]struct{}{},
				provenance: map[string]agentlog.Value{},
			}
			buckets[key] = b
			order = append(order, key)
			b.absorb(&ev)
			continue
		}
		b.absorb(&ev)
		if prefersCandidate(&ev, &b.primary) {
			b.primary = ev
		}
	}

	out := make([]agentlog.Event, 0, len(order))
	for _, key := range order {
		out = append(out, buckets[key].finalize())
	}
	return out, DedupeStats{
		InputRecords:     len(events),
		UniqueRecords:    len(out),
		DuplicateRecords: len(events) - len(out),
	}
}

func (b *bucket) absorb(e *agentlog.Event) {
	b.members[e.EventID] = struct{}{}
	key := provenanceKey(e)
	if _, seen := b.provenance[key]; seen {
		return
	}
	b.provenance[key] = provenanceEntry(e)
	b.provenanceKeys = append(b.provenanceKeys, key)
}

func (b *bucket) finalize() agentlog.Event {
	members := make([]string, 0, len(b.members))
	for id := range b.members {
		members = append(members, id)
	}
	sort.Strings(members)

	keys := append([]string(nil), b.provenanceKeys...)
	sort.Strings(keys)
	entries := make([]agentlog.Value, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, b.provenance[k])
	}

	ev := b.primary
	ev.Metadata = ev.Metadata.Clone()
	if ev.Metadata == nil {
		ev.Metadata = agentlog.Metadata{}
	}
	ev.Metadata.Set(MetaDedupeCount, agentlog.Int(int64(len(members))))
	ev.Metadata.Set(MetaDedupeStrategy, agentlog.String(string(b.strategy)))
	ev.Metadata.Set(MetaDedupeMembers, agentlog.Strings(members))
	ev.Metadata.Set(MetaProvenanceEntries, agentlog.Array(entries...))
	return ev
}

// prefersCandidate reports whether candidate should replace current as a
// bucket primary: better timestamp quality, then more metadata keys, then
// the smaller event id.
func prefersCandidate(candidate, current *agentlog.Event) bool {
	if cr, pr := candidate.TimestampQuality.Rank(), current.TimestampQuality.Rank(); cr != pr {
		return cr < pr
	}
	if cn, pn := len(candidate.Metadata), len(current.Metadata); cn != pn {
		return cn > pn
	}
	return candidate.EventID < current.EventID
}

func provenanceKey(e *agentlog.Event) string {
	return strings.Join([]string{
		string(e.SourceKind),
		e.SourcePath,
		e.SourceRecordLocator,
		e.RawHash,
	}, "|")
}

func provenanceEntry(e *agentlog.Event) agentlog.Value {
	version := agentlog.Null()
	if e.AdapterVersion != nil {
		version = agentlog.String(*e.AdapterVersion)
	}
	return agentlog.Object(agentlog.Metadata{
		"source_kind":           agentlog.String(string(e.SourceKind)),
		"source_path":           agentlog.String(e.SourcePath),
		"source_record_locator": agentlog.String(e.SourceRecordLocator),
		"raw_hash":              agentlog.String(e.RawHash),
		"adapter_name":          agentlog.String(string(e.AdapterName)),
		"adapter_version":       version,
	})
}
