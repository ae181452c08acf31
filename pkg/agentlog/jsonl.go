package agentlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrInvalidRow marks a JSONL line that does not decode as an event.
var ErrInvalidRow = errors.New("invalid events jsonl row")

// ReadJSONL decodes one event per non-blank line. Lines that fail to decode
// are reported as warnings, or returned as an error when failFast is set.
// Lines have no length limit.
func ReadJSONL(r io.Reader, failFast bool) ([]Event, []string, error) {
	var (
		events   []Event
		warnings []string
	)
	err := EachLine(r, func(line int, raw []byte) error {
		ev, err := DecodeEvent(raw)
		if err != nil {
			rowErr := fmt.Errorf("%w at line %d: %v", ErrInvalidRow, line, err)
			if failFast {
				return rowErr
			}
			warnings = append(warnings, rowErr.Error())
			return nil
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return events, warnings, nil
}

// EachLine calls fn with the 1-based number and trimmed bytes of every
// non-blank line of r. The slice is only valid during the call. An error
// from fn stops the iteration and is returned unchanged.
func EachLine(r io.Reader, fn func(line int, raw []byte) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	line := 0
	for {
		chunk, err := br.ReadBytes('\n')
		if len(chunk) > 0 {
			line++
			if trimmed := bytes.TrimSpace(chunk); len(trimmed) > 0 {
				if ferr := fn(line, trimmed); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read events jsonl: %w", err)
		}
	}
}

// DecodeEvent strictly decodes one agentlog.v1 record.
func DecodeEvent(line []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	var ev Event
	if err := dec.Decode(&ev); err != nil {
		return Event{}, err
	}
	if ev.SchemaVersion != SchemaVersion {
		return Event{}, fmt.Errorf("unsupported schema_version %q", ev.SchemaVersion)
	}
	return ev, nil
}

// WriteJSONL encodes events one per line.
func WriteJSONL(w io.Writer, events []Event) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encode event %s: %w", events[i].EventID, err)
		}
	}
	return bw.Flush()
}

// IsCompressed reports whether path names a zstd-compressed artifact.
func IsCompressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zst")
}

// OpenArtifact opens a JSONL artifact for reading, decompressing .zst files.
func OpenArtifact(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !IsCompressed(path) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open zstd artifact %s: %w", path, err)
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

// CreateArtifact creates a JSONL artifact for writing, compressing .zst
// files. Parent directories are created as needed.
func CreateArtifact(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !IsCompressed(path) {
		return f, nil
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create zstd artifact %s: %w", path, err)
	}
	return &zstdWriteCloser{enc: enc, f: f}, nil
}

// ReadFile reads every event from a JSONL artifact on disk.
func ReadFile(path string, failFast bool) ([]Event, []string, error) {
	rc, err := OpenArtifact(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read normalized events file %s: %w", path, err)
	}
	defer func() { _ = rc.Close() }()
	return ReadJSONL(rc, failFast)
}

// WriteFile writes events to a JSONL artifact on disk.
func WriteFile(path string, events []Event) error {
	wc, err := CreateArtifact(path)
	if err != nil {
		return err
	}
	if err := WriteJSONL(wc, events); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

type zstdWriteCloser struct {
	enc *zstd.Encoder
	f   *os.File
}

func (z *zstdWriteCloser) Write(p []byte) (int, error) { return z.enc.Write(p) }

func (z *zstdWriteCloser) Close() error {
	if err := z.enc.Close(); err != nil {
		_ = z.f.Close()
		return err
	}
	return z.f.Close()
}
