package agentlog_test

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
	"github.com/hoangnb24/logit-sub000/pkg/agentlog/agentlogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnums_RejectUnknownValues(t *testing.T) {
	var kind agentlog.SourceKind
	err := json.Unmarshal([]byte(`"cursor"`), &kind)
	require.ErrorIs(t, err, agentlog.ErrInvalidEnum)

	var q agentlog.TimestampQuality
	require.NoError(t, json.Unmarshal([]byte(`"derived"`), &q))
	assert.Equal(t, 1, q.Rank())

	_, err = json.Marshal(agentlog.Role("robot"))
	require.Error(t, err)
}

func TestTimestampQuality_RankOrder(t *testing.T) {
	qs := agentlog.AllTimestampQualities()
	for i := 1; i < len(qs); i++ {
		assert.Less(t, qs[i-1].Rank(), qs[i].Rank())
	}
}

func TestFormatUnixMs_RoundTrips(t *testing.T) {
	for _, ms := range []uint64{0, 1, 999, 1_700_000_000_123} {
		formatted := agentlog.FormatUnixMs(ms)
		parsed, err := agentlog.ParseTimestamp(formatted)
		require.NoError(t, err)
		assert.Equal(t, ms, parsed, formatted)
	}
	assert.Equal(t, "2023-11-14T22:13:20.123Z", agentlog.FormatUnixMs(1_700_000_000_123))
}

func TestCheckTimestamp_DetectsMismatch(t *testing.T) {
	ev := agentlogtest.Event("e1")
	require.NoError(t, ev.CheckTimestamp())

	ev.TimestampUnixMs++
	assert.Error(t, ev.CheckTimestamp())
}

func TestMetadata_EncodesSortedKeys(t *testing.T) {
	m := agentlog.Metadata{}
	m.Set("zeta", agentlog.Int(1))
	m.Set("alpha", agentlog.Strings([]string{"b", "a"}))
	m.Set("mid", agentlog.Object(agentlog.Metadata{"y": agentlog.Bool(true), "x": agentlog.Null()}))

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":["b","a"],"mid":{"x":null,"y":true},"zeta":1}`, string(out))

	var back agentlog.Metadata
	require.NoError(t, json.Unmarshal(out, &back))
	n, ok := back["zeta"].AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, agentlog.KindArray, back["alpha"].Kind)
	assert.Equal(t, agentlog.KindObject, back["mid"].Kind)
}

func TestCanonicalHash_IgnoresKeyOrder(t *testing.T) {
	a, err := agentlog.CanonicalHash(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	b, err := agentlog.CanonicalHash(map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	ev := agentlogtest.Event("e1", agentlogtest.WithContent("hello"))
	p1, err := agentlog.CanonicalHash(agentlog.ProjectionOf(&ev))
	require.NoError(t, err)
	ev.SourcePath = "/elsewhere.jsonl"
	p2, err := agentlog.CanonicalHash(agentlog.ProjectionOf(&ev))
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "projection must not depend on source location")
}

func TestReadJSONL_CollectsWarnings(t *testing.T) {
	ev := agentlogtest.Event("e1", agentlogtest.WithContent("hi"))
	var buf bytes.Buffer
	require.NoError(t, agentlog.WriteJSONL(&buf, []agentlog.Event{ev}))
	buf.WriteString("\n{not json}\n")
	buf.WriteString(`{"schema_version":"agentlog.v1","surprise":true}` + "\n")

	events, warnings, err := agentlog.ReadJSONL(strings.NewReader(buf.String()), false)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev, events[0])
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "line 3")
	assert.Contains(t, warnings[1], "line 4")
}

func TestReadJSONL_FailFast(t *testing.T) {
	_, _, err := agentlog.ReadJSONL(strings.NewReader("{bad}\n"), true)
	require.ErrorIs(t, err, agentlog.ErrInvalidRow)
	assert.Contains(t, err.Error(), "invalid events jsonl row at line 1")
}

func TestReadJSONL_LongLines(t *testing.T) {
	big := strings.Repeat("x", 2<<20)
	ev := agentlogtest.Event("big", agentlogtest.WithContent(big))
	var buf bytes.Buffer
	require.NoError(t, agentlog.WriteJSONL(&buf, []agentlog.Event{ev}))
	buf.WriteString(`{"event_id":"` + big + "\n")
	buf.WriteString(`{"schema_version":"agentlog.v1"`)

	events, warnings, err := agentlog.ReadJSONL(&buf, false)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, big, agentlog.Deref(events[0].ContentText))
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "line 2")
	assert.Contains(t, warnings[1], "line 3")
}

func TestArtifact_ZstdRoundTrip(t *testing.T) {
	dir := t.TempDir()
	events := []agentlog.Event{
		agentlogtest.Event("e1"),
		agentlogtest.Event("e2", agentlogtest.WithTimestamp(1_700_000_000_500)),
	}

	for _, name := range []string{"events.jsonl", "events.jsonl.zst"} {
		path := filepath.Join(dir, "nested", name)
		require.NoError(t, agentlog.WriteFile(path, events))

		got, warnings, err := agentlog.ReadFile(path, true)
		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Equal(t, events, got, name)
	}
	assert.True(t, agentlog.IsCompressed("x.JSONL.ZST"))
}
