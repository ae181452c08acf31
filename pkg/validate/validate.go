// Package validate checks an events artifact against the agentlog.v1 JSON
// schema and the record invariants the ingest pipeline relies on.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// ReportSchema identifies the validation report format.
const ReportSchema = "logit.validate-report.v1"

// Mode selects how warnings affect the outcome.
type Mode string

const (
	// ModeBaseline fails only on errors.
	ModeBaseline Mode = "baseline"
	// ModeStrict fails on warnings too.
	ModeStrict Mode = "strict"
)

// ParseMode parses a mode name. An empty name is baseline.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.TrimSpace(raw)) {
	case "", ModeBaseline:
		return ModeBaseline, nil
	case ModeStrict:
		return ModeStrict, nil
	}
	return "", fmt.Errorf("unknown validation mode %q (want baseline or strict)", raw)
}

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue codes.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeSchema           = "schema_violation"
	CodeTimestamp        = "timestamp_mismatch"
	CodeMissingHash      = "missing_hash"
	CodeMissingContent   = "missing_content"
	CodeAdapterVersion   = "adapter_version_not_semver"
	CodeDuplicateEventID = "duplicate_event_id"
)

// Issue is one finding, located by 1-based line number.
type Issue struct {
	Line     int      `json:"line"`
	EventID  string   `json:"event_id,omitempty"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`
}

// Report is the outcome of validating one artifact.
type Report struct {
	Schema        string  `json:"schema"`
	Mode          Mode    `json:"mode"`
	Status        Status  `json:"status"`
	RecordsTotal  int     `json:"records_total"`
	RecordsValid  int     `json:"records_valid"`
	ErrorsCount   int     `json:"errors_count"`
	WarningsCount int     `json:"warnings_count"`
	Issues        []Issue `json:"issues"`
}

// ExitCode maps the status to a process exit code.
func (r Report) ExitCode() int {
	if r.Status == StatusFail {
		return 2
	}
	return 0
}

// Validator validates records against the compiled schema.
type Validator struct {
	schema *jsonschema.Schema
	mode   Mode
}

// New compiles the embedded agentlog.v1 schema.
func New(mode Mode) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(agentlog.SchemaID, bytes.NewReader(agentlog.SchemaDocument())); err != nil {
		return nil, fmt.Errorf("agentlog schema load failed: %w", err)
	}
	compiled, err := c.Compile(agentlog.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("agentlog schema compile failed: %w", err)
	}
	if mode == "" {
		mode = ModeBaseline
	}
	return &Validator{schema: compiled, mode: mode}, nil
}

// File validates the artifact at path, plain or zstd-compressed.
func File(path string, mode Mode) (Report, error) {
	v, err := New(mode)
	if err != nil {
		return Report{}, err
	}
	r, err := agentlog.OpenArtifact(path)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = r.Close() }()
	return v.Validate(r)
}

// Validate checks every non-blank line of r.
func (v *Validator) Validate(r io.Reader) (Report, error) {
	report := Report{Schema: ReportSchema, Mode: v.mode, Issues: []Issue{}}
	seen := map[string]int{}

	err := agentlog.EachLine(r, func(line int, raw []byte) error {
		report.RecordsTotal++
		issues := v.checkLine(line, raw, seen)
		if !hasErrors(issues) {
			report.RecordsValid++
		}
		report.Issues = append(report.Issues, issues...)
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	for _, issue := range report.Issues {
		if issue.Severity == SeverityError {
			report.ErrorsCount++
		} else {
			report.WarningsCount++
		}
	}
	switch {
	case report.ErrorsCount > 0:
		report.Status = StatusFail
	case report.WarningsCount > 0 && v.mode == ModeStrict:
		report.Status = StatusFail
	case report.WarningsCount > 0:
		report.Status = StatusWarn
	default:
		report.Status = StatusPass
	}
	return report, nil
}

func (v *Validator) checkLine(line int, raw []byte, seen map[string]int) []Issue {
	doc, err := decodeDocument(raw)
	if err != nil {
		return []Issue{{Line: line, Severity: SeverityError, Code: CodeInvalidJSON, Message: err.Error()}}
	}
	if err := v.schema.Validate(doc); err != nil {
		return schemaIssues(line, eventIDOf(doc), err)
	}

	var ev agentlog.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return []Issue{{Line: line, Severity: SeverityError, Code: CodeSchema, Message: err.Error()}}
	}
	return v.invariants(line, &ev, seen)
}

// decodeDocument decodes one JSON value with numbers kept as json.Number,
// the form jsonschema expects.
func decodeDocument(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return doc, nil
}

func (v *Validator) invariants(line int, ev *agentlog.Event, seen map[string]int) []Issue {
	var issues []Issue
	add := func(sev Severity, code, path, msg string) {
		issues = append(issues, Issue{Line: line, EventID: ev.EventID, Severity: sev, Code: code, Path: path, Message: msg})
	}

	if first, ok := seen[ev.EventID]; ok {
		add(SeverityError, CodeDuplicateEventID, "/event_id",
			fmt.Sprintf("event_id already used at line %d", first))
	} else {
		seen[ev.EventID] = line
	}
	if err := ev.CheckTimestamp(); err != nil {
		add(SeverityError, CodeTimestamp, "/timestamp_utc", err.Error())
	}
	if strings.TrimSpace(ev.RawHash) == "" {
		add(SeverityError, CodeMissingHash, "/raw_hash", "raw_hash must not be blank")
	}
	if strings.TrimSpace(ev.CanonicalHash) == "" {
		add(SeverityError, CodeMissingHash, "/canonical_hash", "canonical_hash must not be blank")
	}
	if ev.EventType == agentlog.EventPrompt || ev.EventType == agentlog.EventResponse {
		if strings.TrimSpace(agentlog.Deref(ev.ContentText)) == "" {
			sev := SeverityWarning
			if v.mode == ModeStrict {
				sev = SeverityError
			}
			add(sev, CodeMissingContent, "/content_text",
				fmt.Sprintf("%s event has no content_text", ev.EventType))
		}
	}
	if ev.AdapterVersion != nil {
		if _, err := semver.NewVersion(*ev.AdapterVersion); err != nil {
			add(SeverityWarning, CodeAdapterVersion, "/adapter_version",
				fmt.Sprintf("invalid adapter_version %q: %v", *ev.AdapterVersion, err))
		}
	}
	return issues
}

// schemaIssues flattens a validation error into its leaf causes.
func schemaIssues(line int, eventID string, err error) []Issue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Line: line, EventID: eventID, Severity: SeverityError, Code: CodeSchema, Message: err.Error()}}
	}
	var leaves []*jsonschema.ValidationError
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(leaves, func(i, j int) bool {
		return leaves[i].InstanceLocation < leaves[j].InstanceLocation
	})

	issues := make([]Issue, 0, len(leaves))
	for _, leaf := range leaves {
		issues = append(issues, Issue{
			Line:     line,
			EventID:  eventID,
			Severity: SeverityError,
			Code:     CodeSchema,
			Path:     leaf.InstanceLocation,
			Message:  leaf.Message,
		})
	}
	return issues
}

func eventIDOf(doc any) string {
	if m, ok := doc.(map[string]any); ok {
		if id, ok := m["event_id"].(string); ok {
			return id
		}
	}
	return ""
}

func hasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}
