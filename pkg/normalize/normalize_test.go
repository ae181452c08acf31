package normalize_test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
	"github.com/hoangnb24/logit-sub000/pkg/agentlog/agentlogtest"
	"github.com/hoangnb24/logit-sub000/pkg/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func members(t *testing.T, e agentlog.Event) []string {
	t.Helper()
	v, ok := e.Metadata[normalize.MetaDedupeMembers]
	require.True(t, ok, "dedupe_members missing on %s", e.EventID)
	out := make([]string, 0, len(v.Array))
	for _, item := range v.Array {
		out = append(out, item.Str)
	}
	return out
}

func TestMerge_PrimaryPrefersExactQuality(t *testing.T) {
	fallback := agentlogtest.Event("a-fallback",
		agentlogtest.WithCanonicalHash("same"),
		agentlogtest.WithQuality(agentlog.QualityFallback),
		agentlogtest.WithMetadataKeys(3))
	exact := agentlogtest.Event("z-exact",
		agentlogtest.WithCanonicalHash("same"),
		agentlogtest.WithQuality(agentlog.QualityExact),
		agentlogtest.WithMetadataKeys(1))

	for _, input := range [][]agentlog.Event{{fallback, exact}, {exact, fallback}} {
		out, stats := normalize.Merge(input)
		require.Len(t, out, 1)
		assert.Equal(t, "z-exact", out[0].EventID)
		assert.Equal(t, []string{"a-fallback", "z-exact"}, members(t, out[0]))
		assert.Equal(t, normalize.DedupeStats{InputRecords: 2, UniqueRecords: 1, DuplicateRecords: 1}, stats)
	}
}

func TestMerge_PrimaryTieBreaks(t *testing.T) {
	t.Run("more metadata keys", func(t *testing.T) {
		rich := agentlogtest.Event("b", agentlogtest.WithCanonicalHash("h"), agentlogtest.WithMetadataKeys(2))
		poor := agentlogtest.Event("a", agentlogtest.WithCanonicalHash("h"))
		out, _ := normalize.Merge([]agentlog.Event{poor, rich})
		require.Len(t, out, 1)
		assert.Equal(t, "b", out[0].EventID)
	})
	t.Run("smaller event id", func(t *testing.T) {
		b := agentlogtest.Event("b", agentlogtest.WithCanonicalHash("h"))
		a := agentlogtest.Event("a", agentlogtest.WithCanonicalHash("h"))
		out, _ := normalize.Merge([]agentlog.Event{b, a})
		require.Len(t, out, 1)
		assert.Equal(t, "a", out[0].EventID)
	})
}

func TestStrategyFor(t *testing.T) {
	withHash := agentlogtest.Event("1",
		agentlogtest.WithConversation("c", "t"),
		agentlogtest.WithContent("hello"))
	assert.Equal(t, normalize.StrategyCanonicalHash, normalize.StrategyFor(&withHash))

	blank := agentlogtest.Event("2", agentlogtest.WithCanonicalHash("  "), agentlogtest.WithContent("x"))
	assert.Equal(t, normalize.StrategyFallbackA, normalize.StrategyFor(&blank))

	positional := agentlogtest.Event("3", agentlogtest.WithCanonicalHash(""))
	assert.Equal(t, normalize.StrategyFallbackB, normalize.StrategyFor(&positional))
	assert.Equal(t, "b:codex|/logs/codex/session.jsonl|line:1", normalize.GroupKey(&positional, normalize.StrategyFallbackB))
}

func TestMerge_FallbackANormalizesWhitespace(t *testing.T) {
	a := agentlogtest.Event("a",
		agentlogtest.WithCanonicalHash(""),
		agentlogtest.WithConversation("conv", "turn"),
		agentlogtest.WithContent("hello   there\n world"))
	b := agentlogtest.Event("b",
		agentlogtest.WithCanonicalHash(""),
		agentlogtest.WithConversation("conv", "turn"),
		agentlogtest.WithLocator("line:9"),
		agentlogtest.WithContent(" hello there world "))

	out, stats := normalize.Merge([]agentlog.Event{a, b})
	require.Len(t, out, 1)
	assert.Equal(t, 1, stats.DuplicateRecords)
	assert.Equal(t, "fallback_a", out[0].Metadata[normalize.MetaDedupeStrategy].Str)
	assert.Equal(t, "a:codex|conv|turn|user|hello there world", normalize.GroupKey(&a, normalize.StrategyFallbackA))
}

func TestMerge_FallbackBDoesNotMergeAcrossLocators(t *testing.T) {
	a := agentlogtest.Event("a", agentlogtest.WithCanonicalHash(""))
	b := agentlogtest.Event("b", agentlogtest.WithCanonicalHash(""), agentlogtest.WithLocator("line:2"))
	out, stats := normalize.Merge([]agentlog.Event{a, b})
	assert.Len(t, out, 2)
	assert.Zero(t, stats.DuplicateRecords)
}

func TestMerge_ProvenanceDedupedPerRawRecord(t *testing.T) {
	first := agentlogtest.Event("a", agentlogtest.WithCanonicalHash("h"), agentlogtest.WithRawHash("r1"))
	replay := agentlogtest.Event("a2", agentlogtest.WithCanonicalHash("h"), agentlogtest.WithRawHash("r1"))
	other := agentlogtest.Event("b",
		agentlogtest.WithCanonicalHash("h"),
		agentlogtest.WithRawHash("r2"),
		agentlogtest.WithSource(agentlog.SourceClaude, "/logs/claude/p.jsonl", "line:4"),
		agentlogtest.WithAdapterVersion("1.2.0"))

	out, _ := normalize.Merge([]agentlog.Event{first, replay, other})
	require.Len(t, out, 1)
	md := out[0].Metadata

	count, ok := md[normalize.MetaDedupeCount].AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(3), count)

	entries := md[normalize.MetaProvenanceEntries].Array
	require.Len(t, entries, 2)
	claude := entries[0].Object
	assert.Equal(t, "claude", claude["source_kind"].Str)
	assert.Equal(t, "1.2.0", claude["adapter_version"].Str)
	assert.Equal(t, agentlog.KindNull, entries[1].Object["adapter_version"].Kind)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	in := []agentlog.Event{agentlogtest.Event("a", agentlogtest.WithMetadataKeys(1))}
	out, _ := normalize.Merge(in)
	assert.Len(t, in[0].Metadata, 1)
	assert.Len(t, out[0].Metadata, 5)
}

func TestSequence_OrderingKeys(t *testing.T) {
	events := []agentlog.Event{
		agentlogtest.Event("late", agentlogtest.WithTimestamp(2_000)),
		agentlogtest.Event("no-seq", agentlogtest.WithTimestamp(1_000)),
		agentlogtest.Event("seq-1", agentlogtest.WithTimestamp(1_000), agentlogtest.WithSequenceSource(1)),
		agentlogtest.Event("derived", agentlogtest.WithTimestamp(1_000), agentlogtest.WithQuality(agentlog.QualityDerived)),
		agentlogtest.Event("amp", agentlogtest.WithTimestamp(1_000), agentlogtest.WithSource(agentlog.SourceAmp, "/z", "line:1")),
	}
	normalize.Sequence(events)

	var ids []string
	for i, e := range events {
		ids = append(ids, e.EventID)
		assert.Equal(t, uint64(i), e.SequenceGlobal)
	}
	assert.Equal(t, []string{"amp", "seq-1", "no-seq", "derived", "late"}, ids)
}

func TestDedupeAndSort_AssignsContiguousSequence(t *testing.T) {
	out, stats := normalize.DedupeAndSort([]agentlog.Event{
		agentlogtest.Event("b", agentlogtest.WithTimestamp(5)),
		agentlogtest.Event("a", agentlogtest.WithTimestamp(9)),
		agentlogtest.Event("b-dup", agentlogtest.WithTimestamp(5), agentlogtest.WithCanonicalHash(agentlog.HashBytes([]byte("canonical:b")))),
	})
	require.Len(t, out, 2)
	assert.Equal(t, 1, stats.DuplicateRecords)
	assert.Equal(t, "b", out[0].EventID)
	assert.Equal(t, uint64(0), out[0].SequenceGlobal)
	assert.Equal(t, uint64(1), out[1].SequenceGlobal)
}

func TestWriteArtifacts(t *testing.T) {
	dir := t.TempDir()
	events, dedupe := normalize.DedupeAndSort([]agentlog.Event{
		agentlogtest.Event("a"),
		agentlogtest.Event("b", agentlogtest.WithEventType(agentlog.EventToolInvocation, agentlog.FormatToolCall)),
	})
	events[0].Warnings = []string{"w"}

	layout := normalize.NewLayout(dir)
	stats, err := normalize.WriteArtifacts(layout, events, dedupe)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Counts.RecordsEmitted)
	assert.Equal(t, 1, stats.Counts.Warnings)
	assert.Equal(t, 0, stats.EventTypeCounts["debug_log"])
	assert.Equal(t, 1, stats.EventTypeCounts["tool_invocation"])
	assert.Len(t, stats.SourceContributions, len(agentlog.AllSourceKinds()))

	raw, err := os.ReadFile(layout.StatsJSON)
	require.NoError(t, err)
	var decoded normalize.Stats
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, stats, decoded)

	schema, err := os.ReadFile(layout.SchemaJSON)
	require.NoError(t, err)
	assert.Contains(t, string(schema), agentlog.SchemaID)

	back, _, err := agentlog.ReadFile(layout.EventsJSONL, true)
	require.NoError(t, err)
	assert.Equal(t, events, back)
}
