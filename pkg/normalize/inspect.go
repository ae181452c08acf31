package normalize

import (
	"fmt"
	"io"
	"os"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// LineCounts describes the rows of an events file.
type LineCounts struct {
	TotalLines    int `json:"total_lines"`
	NonEmptyLines int `json:"non_empty_lines"`
	EventRows     int `json:"event_rows"`
	InvalidRows   int `json:"invalid_rows"`
}

// EventSummary breaks the decodable rows down by adapter and event type.
type EventSummary struct {
	NormalizedRows  int            `json:"normalized_rows"`
	AdapterCounts   map[string]int `json:"adapter_counts"`
	EventTypeCounts map[string]int `json:"event_type_counts"`
}

// Inspection is a read-only summary of one events file.
type Inspection struct {
	TargetPath    string        `json:"target_path"`
	FileSizeBytes int64         `json:"file_size_bytes"`
	Compressed    bool          `json:"compressed"`
	LineCounts    LineCounts    `json:"line_counts"`
	Summary       *EventSummary `json:"normalized_event_summary"`
	Warnings      []string      `json:"warnings"`
}

// InspectFile summarizes the events artifact at path, plain or zstd.
func InspectFile(path string) (Inspection, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Inspection{}, fmt.Errorf("inspect target %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Inspection{}, fmt.Errorf("inspect target must be a file: %s", path)
	}
	rc, err := agentlog.OpenArtifact(path)
	if err != nil {
		return Inspection{}, err
	}
	defer func() { _ = rc.Close() }()

	in, err := Inspect(rc)
	if err != nil {
		return Inspection{}, err
	}
	in.TargetPath = path
	in.FileSizeBytes = info.Size()
	in.Compressed = agentlog.IsCompressed(path)
	return in, nil
}

// Inspect counts the lines of r and summarizes the rows that decode as
// agentlog.v1 events. Rows that do not decode become warnings.
func Inspect(r io.Reader) (Inspection, error) {
	in := Inspection{Warnings: []string{}}
	counter := &lineCounter{r: r}
	var events []agentlog.Event
	err := agentlog.EachLine(counter, func(line int, raw []byte) error {
		in.LineCounts.NonEmptyLines++
		ev, err := agentlog.DecodeEvent(raw)
		if err != nil {
			in.LineCounts.InvalidRows++
			in.Warnings = append(in.Warnings, fmt.Sprintf("line %d: %v", line, err))
			return nil
		}
		in.LineCounts.EventRows++
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return Inspection{}, err
	}
	in.LineCounts.TotalLines = counter.lines()

	if len(events) > 0 {
		stats := BuildStats(events, DedupeStats{InputRecords: len(events)})
		in.Summary = &EventSummary{
			NormalizedRows:  len(events),
			AdapterCounts:   stats.AdapterContributions,
			EventTypeCounts: stats.EventTypeCounts,
		}
	}
	return in, nil
}

// lineCounter counts newline-terminated lines plus an unterminated tail.
type lineCounter struct {
	r        io.Reader
	newlines int
	last     byte
	seen     bool
}

func (c *lineCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	for _, b := range p[:n] {
		if b == '\n' {
			c.newlines++
		}
	}
	if n > 0 {
		c.last = p[n-1]
		c.seen = true
	}
	return n, err
}

func (c *lineCounter) lines() int {
	if c.seen && c.last != '\n' {
		return c.newlines + 1
	}
	return c.newlines
}
