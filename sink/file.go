// Package sink persists collection reports.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"printmaster/fleetscan/collector"
)

// Format is the on-disk encoding of a report file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml". Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json or yaml)", s)
}

// File writes the device array of each report to Path, replacing the
// previous file atomically.
type File struct {
	Path   string
	Format Format
}

// NewFile returns a file sink for path in the given format.
func NewFile(path string, format Format) *File {
	return &File{Path: path, Format: format}
}

// Store encodes the report and swaps it into place.
func (f *File) Store(ctx context.Context, cycle *collector.Cycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(cycle.Report, f.Format)
	if err != nil {
		return err
	}
	return writeAtomic(f.Path, data)
}

// Encode renders a report the way File persists it. JSON is indented by
// four spaces and keeps non-ASCII text as-is.
func Encode(report collector.Report, format Format) ([]byte, error) {
	if report == nil {
		report = collector.Report{}
	}
	var buf bytes.Buffer
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
	default:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "    ")
		if err := enc.Encode(report); err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// writeAtomic writes data to a temp file next to path and renames it over
// path so readers never see a partial report.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Multi stores to every sink in order. All sinks are attempted; the first
// failure is returned.
type Multi []collector.Sink

func (m Multi) Store(ctx context.Context, cycle *collector.Cycle) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Store(ctx, cycle); err != nil && first == nil {
			first = err
		}
	}
	return first
}
