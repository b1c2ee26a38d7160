// Package inventory loads and writes the device list a scan cycle runs over.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"printmaster/fleetscan/collector"
)

// Logger receives validation warnings.
type Logger interface {
	Warn(msg string, context ...interface{})
}

// File is an inventory backed by a JSON or YAML file. The format is chosen
// by extension: .yaml and .yml are YAML, everything else is JSON.
type File struct {
	Path string
	Log  Logger
}

// Devices reads and validates the file on every call so edits are picked up
// between watch cycles.
func (f *File) Devices(ctx context.Context) ([]collector.DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", collector.ErrInventoryEmpty, err)
	}
	records, err := Parse(data, IsYAML(f.Path), f.Log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return records, nil
}

// IsYAML reports whether path names a YAML document.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Parse decodes an inventory document: an array of objects, each with at
// least an "ip" key. An empty array is ErrInventoryEmpty. A record without
// an address fails the whole document.
func Parse(data []byte, asYAML bool, log Logger) ([]collector.DeviceRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, collector.ErrInventoryEmpty
	}

	var raw []map[string]any
	if asYAML {
		var doc []map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %w", collector.ErrInventoryEmpty, err)
		}
		// YAML and JSON decode numbers differently; pass through JSON so
		// metadata looks the same in the report whichever format was used.
		normalized, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: normalize yaml: %w", collector.ErrInventoryEmpty, err)
		}
		data = normalized
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode json: %w", collector.ErrInventoryEmpty, err)
	}
	if len(raw) == 0 {
		return nil, collector.ErrInventoryEmpty
	}

	records := make([]collector.DeviceRecord, 0, len(raw))
	for i, m := range raw {
		rec, dropped, err := collector.RecordFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrInvalidRecord, i+1, err)
		}
		if len(dropped) > 0 && log != nil {
			sort.Strings(dropped)
			log.Warn("Ignoring reserved inventory keys", "device", rec.DisplayName, "keys", strings.Join(dropped, ","))
		}
		records = append(records, rec)
	}
	return records, nil
}

// ErrInvalidRecord marks an inventory entry that cannot be probed.
var ErrInvalidRecord = errors.New("invalid inventory record")

// Save writes records to path as an inventory document, choosing the format
// by extension. JSON output is indented by four spaces.
func Save(path string, records []collector.DeviceRecord) error {
	docs := make([]map[string]any, len(records))
	for i, r := range records {
		docs[i] = r.Fields()
	}

	var data []byte
	if IsYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		data = buf.Bytes()
	} else {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "    ")
		if err := enc.Encode(docs); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		data = buf.Bytes()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create inventory directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}
