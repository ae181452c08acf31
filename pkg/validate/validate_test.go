package validate

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
	"github.com/hoangnb24/logit-sub000/pkg/agentlog/agentlogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(t *testing.T, ev agentlog.Event, edit func(map[string]any)) string {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	if edit == nil {
		return string(raw)
	}
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	edit(m)
	raw, err = json.Marshal(m)
	require.NoError(t, err)
	return string(raw)
}

func run(t *testing.T, mode Mode, lines ...string) Report {
	t.Helper()
	v, err := New(mode)
	require.NoError(t, err)
	report, err := v.Validate(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	return report
}

func codes(r Report) []string {
	out := make([]string, 0, len(r.Issues))
	for _, issue := range r.Issues {
		out = append(out, issue.Code)
	}
	return out
}

func TestValidate_Pass(t *testing.T) {
	report := run(t, ModeStrict,
		line(t, agentlogtest.Event("a", agentlogtest.WithContent("hi"), agentlogtest.WithAdapterVersion("1.2.0")), nil),
		"",
		line(t, agentlogtest.Event("b", agentlogtest.WithContent("there")), nil),
	)
	assert.Equal(t, StatusPass, report.Status)
	assert.Equal(t, 2, report.RecordsTotal)
	assert.Equal(t, 2, report.RecordsValid)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 0, report.ExitCode())
}

func TestValidate_SchemaViolations(t *testing.T) {
	report := run(t, ModeBaseline,
		line(t, agentlogtest.Event("a", agentlogtest.WithContent("x")), func(m map[string]any) {
			m["role"] = "narrator"
			delete(m, "raw_hash")
		}),
		line(t, agentlogtest.Event("b", agentlogtest.WithContent("x")), func(m map[string]any) {
			m["unexpected"] = true
		}),
		"{broken",
	)
	assert.Equal(t, StatusFail, report.Status)
	assert.Equal(t, 2, report.ExitCode())
	assert.Equal(t, 3, report.RecordsTotal)
	assert.Equal(t, 0, report.RecordsValid)
	assert.Contains(t, codes(report), CodeSchema)
	assert.Contains(t, codes(report), CodeInvalidJSON)

	var roleIssue bool
	for _, issue := range report.Issues {
		if issue.Path == "/role" {
			roleIssue = true
			assert.Equal(t, "a", issue.EventID)
			assert.Equal(t, 1, issue.Line)
		}
	}
	assert.True(t, roleIssue, "%+v", report.Issues)
	assert.Equal(t, 3, report.Issues[len(report.Issues)-1].Line)
}

func TestValidate_Invariants(t *testing.T) {
	mismatched := agentlogtest.Event("ts", agentlogtest.WithContent("x"))
	mismatched.TimestampUTC = "2001-01-01T00:00:00.000Z"

	report := run(t, ModeBaseline,
		line(t, mismatched, nil),
		line(t, agentlogtest.Event("dup", agentlogtest.WithContent("x")), nil),
		line(t, agentlogtest.Event("dup", agentlogtest.WithContent("y")), nil),
		line(t, agentlogtest.Event("blank", agentlogtest.WithContent("x"), agentlogtest.WithRawHash("  ")), nil),
	)
	assert.Equal(t, StatusFail, report.Status)
	assert.ElementsMatch(t, []string{CodeTimestamp, CodeDuplicateEventID, CodeMissingHash}, codes(report))
	assert.Equal(t, 1, report.RecordsValid)
	assert.Equal(t, 3, report.ErrorsCount)
}

func TestValidate_WarningsDependOnMode(t *testing.T) {
	lines := []string{
		line(t, agentlogtest.Event("empty"), nil),
		line(t, agentlogtest.Event("ver", agentlogtest.WithContent("x"), agentlogtest.WithAdapterVersion("not-a-version")), nil),
	}

	baseline := run(t, ModeBaseline, lines...)
	assert.Equal(t, StatusWarn, baseline.Status)
	assert.Equal(t, 0, baseline.ExitCode())
	assert.Equal(t, 2, baseline.WarningsCount)
	assert.Equal(t, 2, baseline.RecordsValid)
	assert.ElementsMatch(t, []string{CodeMissingContent, CodeAdapterVersion}, codes(baseline))

	strict := run(t, ModeStrict, lines...)
	assert.Equal(t, StatusFail, strict.Status)
	assert.Equal(t, 2, strict.ExitCode())
	assert.Equal(t, 1, strict.ErrorsCount, "missing content is an error in strict mode")
	assert.Equal(t, 1, strict.WarningsCount)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBaseline, m)
	m, err = ParseMode("strict")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)
	_, err = ParseMode("lenient")
	require.Error(t, err)
}

func TestFile_Compressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl.zst")
	require.NoError(t, agentlog.WriteFile(path, []agentlog.Event{
		agentlogtest.Event("a", agentlogtest.WithContent("x")),
	}))
	report, err := File(path, ModeBaseline)
	require.NoError(t, err)
	assert.Equal(t, StatusPass, report.Status)
	assert.Equal(t, 1, report.RecordsTotal)
}

func TestValidate_NumericFields(t *testing.T) {
	report := run(t, ModeBaseline,
		line(t, agentlogtest.Event("big", agentlogtest.WithContent("x"), agentlogtest.WithTimestamp(1_700_000_000_123)), nil),
		line(t, agentlogtest.Event("frac", agentlogtest.WithContent("x")), func(m map[string]any) {
			m["sequence_global"] = 1.5
		}),
		line(t, agentlogtest.Event("trail", agentlogtest.WithContent("x")), nil)+` {}`,
	)
	require.Len(t, report.Issues, 2, "%+v", report.Issues)
	assert.Equal(t, 1, report.RecordsValid)

	assert.Equal(t, 2, report.Issues[0].Line)
	assert.Equal(t, CodeSchema, report.Issues[0].Code)
	assert.Equal(t, "/sequence_global", report.Issues[0].Path)
	assert.Equal(t, "frac", report.Issues[0].EventID)

	assert.Equal(t, 3, report.Issues[1].Line)
	assert.Equal(t, CodeInvalidJSON, report.Issues[1].Code)
}
