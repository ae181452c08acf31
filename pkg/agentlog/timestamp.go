package agentlog

import (
	"fmt"
	"time"
)

// TimestampLayout is the canonical timestamp_utc format: RFC 3339, UTC,
// millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatUnixMs renders unix milliseconds as a canonical timestamp_utc string.
func FormatUnixMs(ms uint64) string {
	return time.UnixMilli(int64(ms)).UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an RFC 3339 timestamp into unix milliseconds.
// Sub-millisecond precision is truncated.
func ParseTimestamp(raw string) (uint64, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	ms := t.UnixMilli()
	if ms < 0 {
		return 0, fmt.Errorf("timestamp %q is before the unix epoch", raw)
	}
	return uint64(ms), nil
}

// CheckTimestamp verifies that timestamp_utc round-trips to timestamp_unix_ms.
func (e *Event) CheckTimestamp() error {
	ms, err := ParseTimestamp(e.TimestampUTC)
	if err != nil {
		return err
	}
	if ms != e.TimestampUnixMs {
		return fmt.Errorf("timestamp_utc %q resolves to %d, record carries %d", e.TimestampUTC, ms, e.TimestampUnixMs)
	}
	return nil
}
