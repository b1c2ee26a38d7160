// Package collector implements the per-device fetch/parse/classify pipeline and
// the scan cycle that turns an inventory into a CollectionReport.
package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Status is the overall health of a device after one probe.
type Status string

const (
	StatusOnline Status = "online"
	StatusAlert  Status = "alert"
	StatusError  Status = "error"
)

// TimestampLayout is the wall-clock format used for lastUpdate.
const TimestampLayout = "2006-01-02 15:04:05"

// Persisted keys for the device address and display name.
const (
	KeyAddress = "ip"
	KeyName    = "name"
)

// reservedKeys are computed by the engine and always win over inventory metadata.
var reservedKeys = map[string]bool{
	"id":           true,
	"status":       true,
	"toners":       true,
	"lastUpdate":   true,
	"errorMessage": true,
	"errorKind":    true,
}

// IsReservedKey reports whether key is written by the engine for every device.
func IsReservedKey(key string) bool {
	return reservedKeys[key]
}

// DeviceRecord is one inventory entry. Extra holds any metadata beyond the
// address; it is copied verbatim into the output. DisplayName is the label
// used for progress and metrics. When the inventory name is not exactly that
// label (padded, empty, not a string) the raw value is kept in Extra under
// KeyName and persisted instead.
type DeviceRecord struct {
	Address     string
	DisplayName string
	Extra       map[string]any
}

// RecordFromMap builds a DeviceRecord from a decoded inventory object.
// Reserved keys are dropped and returned so callers can warn about them.
func RecordFromMap(m map[string]any) (DeviceRecord, []string, error) {
	rec := DeviceRecord{}
	var dropped []string

	addr, _ := m[KeyAddress].(string)
	rec.Address = strings.TrimSpace(addr)
	if rec.Address == "" {
		return DeviceRecord{}, nil, fmt.Errorf("device record has no %q", KeyAddress)
	}

	for k, v := range m {
		switch {
		case k == KeyAddress || k == KeyName:
			continue
		case IsReservedKey(k):
			dropped = append(dropped, k)
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[k] = v
	}
	name, ok := m[KeyName]
	rec.setName(name, ok)
	return rec, dropped, nil
}

// setName derives DisplayName from the inventory name and keeps the raw
// value when persisting DisplayName would change it.
func (r *DeviceRecord) setName(v any, present bool) {
	r.DisplayName = displayName(v, r.Address)
	if !present {
		return
	}
	if s, ok := v.(string); ok && s == r.DisplayName {
		return
	}
	if r.Extra == nil {
		r.Extra = make(map[string]any)
	}
	r.Extra[KeyName] = v
}

func displayName(v any, address string) string {
	var s string
	switch n := v.(type) {
	case string:
		s = strings.TrimSpace(n)
	case float64, float32, int, int64, uint64, bool, json.Number:
		s = fmt.Sprint(n)
	}
	if s == "" {
		return address
	}
	return s
}

// Fields returns the record as a flat key/value map in its persisted form.
func (r DeviceRecord) Fields() map[string]any {
	out := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		out[k] = v
	}
	out[KeyAddress] = r.Address
	if _, ok := out[KeyName]; !ok {
		out[KeyName] = r.DisplayName
	}
	return out
}

// ConsumableReading is one supply slot read from a device status page.
type ConsumableReading struct {
	Name     string
	Category Category
	Level    int
}

type consumableJSON struct {
	Name     string   `json:"name" yaml:"name"`
	Color    string   `json:"color" yaml:"color"`
	Category Category `json:"category,omitempty" yaml:"category,omitempty"`
	Level    int      `json:"level" yaml:"level"`
}

func (c ConsumableReading) wire() consumableJSON {
	return consumableJSON{Name: c.Name, Color: c.Category.Color(), Category: c.Category, Level: c.Level}
}

func (w consumableJSON) reading() ConsumableReading {
	cat := w.Category
	if cat == "" {
		cat = CategoryFromColor(w.Color)
	}
	return ConsumableReading{Name: w.Name, Category: cat, Level: w.Level}
}

// MarshalJSON writes the reading with both its display color and category tag.
func (c ConsumableReading) MarshalJSON() ([]byte, error) {
	return marshalNoEscape(c.wire())
}

// UnmarshalJSON accepts readings with or without a category; the color is
// used to recover the category when it is missing.
func (c *ConsumableReading) UnmarshalJSON(data []byte) error {
	var w consumableJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = w.reading()
	return nil
}

// DeviceResult is the outcome of probing one device in one scan cycle.
type DeviceResult struct {
	DeviceRecord
	SequenceID   int
	Status       Status
	Consumables  []ConsumableReading
	Timestamp    time.Time
	ErrorKind    ErrorKind
	ErrorMessage string
}

// Succeeded reports whether the device page was fetched and parsed.
func (r DeviceResult) Succeeded() bool {
	return r.Status != StatusError
}

// Fields returns the persisted representation of the result.
func (r DeviceResult) Fields() map[string]any {
	out := r.DeviceRecord.Fields()
	out["id"] = r.SequenceID
	out["status"] = string(r.Status)
	toners := make([]consumableJSON, 0, len(r.Consumables))
	for _, c := range r.Consumables {
		toners = append(toners, c.wire())
	}
	out["toners"] = toners
	out["lastUpdate"] = r.Timestamp.Format(TimestampLayout)
	if r.ErrorMessage != "" {
		out["errorMessage"] = r.ErrorMessage
	} else {
		out["errorMessage"] = nil
	}
	if r.ErrorKind != "" {
		out["errorKind"] = string(r.ErrorKind)
	}
	return out
}

// MarshalJSON flattens the record and the computed fields into one object.
func (r DeviceResult) MarshalJSON() ([]byte, error) {
	return marshalNoEscape(r.Fields())
}

// MarshalYAML mirrors MarshalJSON so both output formats carry the same keys.
func (r DeviceResult) MarshalYAML() (interface{}, error) {
	return r.Fields(), nil
}

// UnmarshalJSON reads a persisted device object back into a DeviceResult.
func (r *DeviceResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var (
		out     DeviceResult
		name    any
		hasName bool
	)
	extra := make(map[string]any)
	for k, v := range raw {
		var err error
		switch k {
		case KeyAddress:
			err = json.Unmarshal(v, &out.Address)
		case KeyName:
			hasName = true
			err = json.Unmarshal(v, &name)
		case "id":
			err = json.Unmarshal(v, &out.SequenceID)
		case "status":
			err = json.Unmarshal(v, &out.Status)
		case "toners":
			out.Consumables = []ConsumableReading{}
			if string(v) != "null" {
				err = json.Unmarshal(v, &out.Consumables)
			}
		case "lastUpdate":
			var s string
			if err = json.Unmarshal(v, &s); err == nil && s != "" {
				out.Timestamp, err = time.ParseInLocation(TimestampLayout, s, time.Local)
			}
		case "errorMessage":
			var s *string
			if err = json.Unmarshal(v, &s); err == nil && s != nil {
				out.ErrorMessage = *s
			}
		case "errorKind":
			err = json.Unmarshal(v, &out.ErrorKind)
		default:
			var val any
			err = json.Unmarshal(v, &val)
			extra[k] = val
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	if len(extra) > 0 {
		out.Extra = extra
	}
	out.setName(name, hasName)
	if out.Consumables == nil {
		out.Consumables = []ConsumableReading{}
	}
	*r = out
	return nil
}

// UnmarshalYAML reads a device written by MarshalYAML. The node is decoded
// generically and then goes through the same field handling as JSON.
func (r *DeviceResult) UnmarshalYAML(node *yaml.Node) error {
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("convert yaml device: %w", err)
	}
	return r.UnmarshalJSON(data)
}

// Report is the ordered result of one scan cycle: one entry per inventory
// record, in inventory order.
type Report []DeviceResult

// Tally counts successful and failed probes in the report.
func (r Report) Tally() (succeeded, failed int) {
	for _, res := range r {
		if res.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// Cycle wraps a report with metadata about the run that produced it.
type Cycle struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Report     Report
}

// marshalNoEscape encodes v without HTML escaping so device names keep their
// original characters.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
