package normalize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// Layout names the files a normalize pass writes under one output directory.
type Layout struct {
	EventsJSONL string
	SchemaJSON  string
	StatsJSON   string
}

// NewLayout returns the artifact layout rooted at outDir.
func NewLayout(outDir string) Layout {
	return Layout{
		EventsJSONL: filepath.Join(outDir, "events.jsonl"),
		SchemaJSON:  filepath.Join(outDir, "agentlog.v1.schema.json"),
		StatsJSON:   filepath.Join(outDir, "stats.json"),
	}
}

// WriteArtifacts writes the events, schema and stats artifacts and returns
// the stats that were written.
func WriteArtifacts(layout Layout, events []agentlog.Event, dedupe DedupeStats) (Stats, error) {
	if err := agentlog.WriteFile(layout.EventsJSONL, events); err != nil {
		return Stats{}, fmt.Errorf("write events artifact: %w", err)
	}
	if err := writeFile(layout.SchemaJSON, agentlog.SchemaDocument()); err != nil {
		return Stats{}, fmt.Errorf("write schema artifact: %w", err)
	}
	stats := BuildStats(events, dedupe)
	if err := WriteJSON(layout.StatsJSON, stats); err != nil {
		return Stats{}, fmt.Errorf("write stats artifact: %w", err)
	}
	return stats, nil
}

// WriteJSON writes v as indented JSON, creating parent directories.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
