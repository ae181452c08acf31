// Package envelope is the JSON result document printed by logit commands.
package envelope

import (
	"encoding/json"
	"io"
	"time"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// SchemaVersion is recorded under meta.schema_version.
const SchemaVersion = "logit.envelope.v1"

// Error codes.
const (
	CodeUsage      = "usage_error"
	CodeRuntime    = "runtime_failure"
	CodeValidation = "validation_failure"
)

// Notice is a warning or error entry.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope wraps a command result.
type Envelope struct {
	OK             bool           `json:"ok"`
	Command        string         `json:"command"`
	GeneratedAtUTC string         `json:"generated_at_utc"`
	Data           any            `json:"data,omitempty"`
	Meta           map[string]any `json:"meta"`
	Warnings       []Notice       `json:"warnings"`
	Error          *Notice        `json:"error,omitempty"`
}

// Now is the clock used for generated_at_utc.
var Now = time.Now

func base(command string, ok bool) *Envelope {
	return &Envelope{
		OK:             ok,
		Command:        command,
		GeneratedAtUTC: agentlog.FormatUnixMs(uint64(Now().UTC().UnixMilli())),
		Meta:           map[string]any{"schema_version": SchemaVersion},
		Warnings:       []Notice{},
	}
}

// OK builds a successful envelope carrying data.
func OK(command string, data any) *Envelope {
	e := base(command, true)
	e.Data = data
	return e
}

// Fail builds a failed envelope.
func Fail(command, code, message string) *Envelope {
	e := base(command, false)
	e.Error = &Notice{Code: code, Message: message}
	return e
}

func (e *Envelope) WithData(data any) *Envelope {
	e.Data = data
	return e
}

func (e *Envelope) WithMeta(key string, value any) *Envelope {
	e.Meta[key] = value
	return e
}

func (e *Envelope) WithWarning(code, message string) *Envelope {
	e.Warnings = append(e.Warnings, Notice{Code: code, Message: message})
	return e
}

// WithWarnings adds one warning per message under the same code.
func (e *Envelope) WithWarnings(code string, messages []string) *Envelope {
	for _, m := range messages {
		e.WithWarning(code, m)
	}
	return e
}

// WithErrorDetails attaches details to the error entry, if any.
func (e *Envelope) WithErrorDetails(details any) *Envelope {
	if e.Error != nil {
		e.Error.Details = details
	}
	return e
}

// Write prints the envelope as indented JSON followed by a newline.
func (e *Envelope) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
