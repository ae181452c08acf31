package normalize

import (
	"math"
	"sort"
	"strings"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// Compare orders two records for sequencing. It returns a negative number
// when a sorts before b, a positive number when after, zero when every
// ordering key is equal.
func Compare(a, b *agentlog.Event) int {
	if c := cmpUint(a.TimestampUnixMs, b.TimestampUnixMs); c != 0 {
		return c
	}
	if c := a.TimestampQuality.Rank() - b.TimestampQuality.Rank(); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.SourceKind), string(b.SourceKind)); c != 0 {
		return c
	}
	if c := strings.Compare(a.SourcePath, b.SourcePath); c != 0 {
		return c
	}
	if c := strings.Compare(a.SourceRecordLocator, b.SourceRecordLocator); c != 0 {
		return c
	}
	if c := cmpUint(sequenceSource(a), sequenceSource(b)); c != 0 {
		return c
	}
	if c := strings.Compare(a.CanonicalHash, b.CanonicalHash); c != 0 {
		return c
	}
	return strings.Compare(a.EventID, b.EventID)
}

// absent sequence_source sorts last
func sequenceSource(e *agentlog.Event) uint64 {
	if e.SequenceSource == nil {
		return math.MaxUint64
	}
	return *e.SequenceSource
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Sequence sorts events in place and assigns zero-based sequence_global.
func Sequence(events []agentlog.Event) {
	sort.Slice(events, func(i, j int) bool {
		return Compare(&events[i], &events[j]) < 0
	})
	for i := range events {
		events[i].SequenceGlobal = uint64(i)
	}
}

// DedupeAndSort merges overlapping records and sequences the result.
func DedupeAndSort(events []agentlog.Event) ([]agentlog.Event, DedupeStats) {
	merged, stats := Merge(events)
	Sequence(merged)
	return merged, stats
}
