package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// ParityMismatch is one difference between an events artifact and the store.
type ParityMismatch struct {
	EventID     string `json:"event_id,omitempty"`
	Field       string `json:"field"`
	JSONLValue  string `json:"jsonl_value,omitempty"`
	StoredValue string `json:"stored_value,omitempty"`
	Detail      string `json:"detail"`
}

// ParityReport compares an events artifact with the stored rows.
type ParityReport struct {
	JSONLRecords    int              `json:"jsonl_records"`
	StoredRecords   int              `json:"stored_records"`
	ComparedRecords int              `json:"compared_records"`
	Mismatches      []ParityMismatch `json:"mismatches"`
}

// Match reports whether no mismatch was found.
func (r ParityReport) Match() bool { return len(r.Mismatches) == 0 }

// VerifyParity checks that the store holds exactly the given events,
// column by column.
func (s *Store) VerifyParity(ctx context.Context, events []agentlog.Event) (ParityReport, error) {
	expected := make(map[string][]string, len(events))
	for i := range events {
		values, err := eventValues(&events[i])
		if err != nil {
			return ParityReport{}, err
		}
		expected[events[i].EventID] = renderValues(values)
	}

	stored, err := s.storedRows(ctx)
	if err != nil {
		return ParityReport{}, err
	}

	report := ParityReport{JSONLRecords: len(expected), StoredRecords: len(stored)}
	if len(expected) != len(stored) {
		report.Mismatches = append(report.Mismatches, ParityMismatch{
			Field:       "record_count",
			JSONLValue:  strconv.Itoa(len(expected)),
			StoredValue: strconv.Itoa(len(stored)),
			Detail:      "record counts differ between JSONL and store",
		})
	}

	for id, want := range expected {
		got, ok := stored[id]
		if !ok {
			report.Mismatches = append(report.Mismatches, ParityMismatch{
				EventID: id, Field: "event_id", JSONLValue: id,
				Detail: "record present in JSONL but missing from store",
			})
			continue
		}
		report.ComparedRecords++
		for i, col := range EventColumns {
			if want[i] != got[i] {
				report.Mismatches = append(report.Mismatches, ParityMismatch{
					EventID: id, Field: col, JSONLValue: want[i], StoredValue: got[i],
					Detail: fmt.Sprintf("column %s differs for event", col),
				})
			}
		}
	}
	for id := range stored {
		if _, ok := expected[id]; !ok {
			report.Mismatches = append(report.Mismatches, ParityMismatch{
				EventID: id, Field: "event_id", StoredValue: id,
				Detail: "record present in store but missing from JSONL",
			})
		}
	}

	sort.Slice(report.Mismatches, func(i, j int) bool {
		a, b := report.Mismatches[i], report.Mismatches[j]
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Detail < b.Detail
	})
	return report, nil
}

func (s *Store) storedRows(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(EventColumns, ", ")+` FROM agentlog_events ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string][]string{}
	for rows.Next() {
		values := make([]any, len(EventColumns))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan stored event: %w", err)
		}
		rendered := renderValues(values)
		out[rendered[1]] = rendered
	}
	return out, rows.Err()
}

// renderValues normalizes driver values so artifact and stored rows
// compare equal regardless of the driver's Go types.
func renderValues(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case nil:
			out[i] = "NULL"
		case []byte:
			out[i] = string(t)
		case string:
			out[i] = t
		case int64:
			out[i] = strconv.FormatInt(t, 10)
		case float64:
			out[i] = strconv.FormatFloat(t, 'g', -1, 64)
		case bool:
			if t {
				out[i] = "1"
			} else {
				out[i] = "0"
			}
		default:
			out[i] = fmt.Sprint(t)
		}
	}
	return out
}
