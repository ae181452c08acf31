package envelope

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T) {
	t.Helper()
	prev := Now
	Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 250_000_000, time.UTC) }
	t.Cleanup(func() { Now = prev })
}

func TestOK(t *testing.T) {
	fixedClock(t)
	var buf bytes.Buffer
	err := OK("ingest runs", map[string]int{"count": 2}).
		WithMeta("db_driver", "sqlite").
		WithWarning("skipped_line", "line 3: bad").
		Write(&buf)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"ok": true,
		"command": "ingest runs",
		"generated_at_utc": "2026-03-01T12:00:00.250Z",
		"data": {"count": 2},
		"meta": {"schema_version": "logit.envelope.v1", "db_driver": "sqlite"},
		"warnings": [{"code": "skipped_line", "message": "line 3: bad"}]
	}`, buf.String())
	assert.Equal(t, byte('\n'), buf.Bytes()[buf.Len()-1])
}

func TestFail(t *testing.T) {
	fixedClock(t)
	var buf bytes.Buffer
	require.NoError(t, Fail("validate", CodeValidation, "2 errors").
		WithErrorDetails(map[string]int{"errors_count": 2}).
		Write(&buf))

	assert.JSONEq(t, `{
		"ok": false,
		"command": "validate",
		"generated_at_utc": "2026-03-01T12:00:00.250Z",
		"meta": {"schema_version": "logit.envelope.v1"},
		"warnings": [],
		"error": {"code": "validation_failure", "message": "2 errors", "details": {"errors_count": 2}}
	}`, buf.String())
}

func TestWithErrorDetails_NoErrorIsNoop(t *testing.T) {
	e := OK("version", nil).WithErrorDetails("ignored")
	assert.Nil(t, e.Error)
	assert.Nil(t, e.Data)
}
