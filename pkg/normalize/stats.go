package normalize

import "github.com/hoangnb24/logit-sub000/pkg/agentlog"

// Counts are the headline numbers of a normalize pass.
type Counts struct {
	InputRecords      int `json:"input_records"`
	RecordsEmitted    int `json:"records_emitted"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	Warnings          int `json:"warnings"`
	Errors            int `json:"errors"`
}

// Stats is the stats.json artifact. Every count map is seeded with all
// enum values so absent categories report zero.
type Stats struct {
	SchemaVersion          string         `json:"schema_version"`
	Counts                 Counts         `json:"counts"`
	AdapterContributions   map[string]int `json:"adapter_contributions"`
	SourceContributions    map[string]int `json:"source_contributions"`
	RecordFormatCounts     map[string]int `json:"record_format_counts"`
	EventTypeCounts        map[string]int `json:"event_type_counts"`
	TimestampQualityCounts map[string]int `json:"timestamp_quality_counts"`
}

// BuildStats summarizes a sequenced event set.
func BuildStats(events []agentlog.Event, dedupe DedupeStats) Stats {
	s := Stats{
		SchemaVersion:          agentlog.SchemaVersion,
		AdapterContributions:   seed(agentlog.AllSourceKinds()),
		SourceContributions:    seed(agentlog.AllSourceKinds()),
		RecordFormatCounts:     seed(agentlog.AllRecordFormats()),
		EventTypeCounts:        seed(agentlog.AllEventTypes()),
		TimestampQualityCounts: seed(agentlog.AllTimestampQualities()),
		Counts: Counts{
			InputRecords:      dedupe.InputRecords,
			RecordsEmitted:    len(events),
			DuplicatesRemoved: dedupe.DuplicateRecords,
		},
	}
	for i := range events {
		ev := &events[i]
		s.AdapterContributions[string(ev.AdapterName)]++
		s.SourceContributions[string(ev.SourceKind)]++
		s.RecordFormatCounts[string(ev.RecordFormat)]++
		s.EventTypeCounts[string(ev.EventType)]++
		s.TimestampQualityCounts[string(ev.TimestampQuality)]++
		s.Counts.Warnings += len(ev.Warnings)
		s.Counts.Errors += len(ev.Errors)
	}
	return s
}

func seed[T ~string](values []T) map[string]int {
	m := make(map[string]int, len(values))
	for _, v := range values {
		m[string(v)] = 0
	}
	return m
}
