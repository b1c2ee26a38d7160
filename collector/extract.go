package collector

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RawSupply is one slot found on a status page before classification.
type RawSupply struct {
	Index     int
	Name      string
	LevelText string
}

// Level returns the sanitized level for the slot.
func (r RawSupply) Level() int {
	return ParseLevel(r.LevelText)
}

// Extract reads the status page and returns the supply slots that have both a
// name and a level element, in slot order. Missing slots are skipped.
func Extract(r io.Reader, scheme NamingScheme) ([]RawSupply, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return extractDocument(doc, scheme.withDefaults()), nil
}

// ExtractBytes is Extract over an in-memory page.
func ExtractBytes(page []byte, scheme NamingScheme) ([]RawSupply, error) {
	return Extract(bytes.NewReader(page), scheme)
}

func extractDocument(doc *goquery.Document, scheme NamingScheme) []RawSupply {
	idx := indexIDs(doc)
	out := make([]RawSupply, 0, scheme.Slots)
	for i := 0; i < scheme.Slots; i++ {
		level, ok := idx.lookup(scheme.LevelElement, scheme.LevelID(i))
		if !ok {
			continue
		}
		name, ok := idx.lookup(scheme.NameElement, scheme.NameID(i))
		if !ok {
			continue
		}
		out = append(out, RawSupply{
			Index:     i,
			Name:      strings.TrimSpace(name),
			LevelText: strings.TrimSpace(level),
		})
	}
	return out
}

// idIndex holds the text of the first element per id, and per tag+id, so a
// page is walked once regardless of the slot bound.
type idIndex map[string]string

func indexIDs(doc *goquery.Document) idIndex {
	idx := make(idIndex)
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		if id == "" {
			return
		}
		text := s.Text()
		anyKey := "*#" + id
		if _, seen := idx[anyKey]; !seen {
			idx[anyKey] = text
		}
		tagKey := strings.ToLower(goquery.NodeName(s)) + "#" + id
		if _, seen := idx[tagKey]; !seen {
			idx[tagKey] = text
		}
	})
	return idx
}

func (idx idIndex) lookup(tag, id string) (string, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		tag = "*"
	}
	text, ok := idx[tag+"#"+id]
	return text, ok
}

// ParseLevel keeps only the ASCII digits of text and clamps the result to
// 0..100. Text with no digits is 0.
func ParseLevel(text string) int {
	n := 0
	for _, r := range text {
		if r < '0' || r > '9' {
			continue
		}
		n = n*10 + int(r-'0')
		if n > 100 {
			// Further digits can only grow the value.
			return 100
		}
	}
	return n
}

// Readings classifies raw slots into consumable readings.
func Readings(raw []RawSupply) []ConsumableReading {
	out := make([]ConsumableReading, 0, len(raw))
	for _, r := range raw {
		out = append(out, ConsumableReading{
			Name:     r.Name,
			Category: Classify(r.Name),
			Level:    r.Level(),
		})
	}
	return out
}
