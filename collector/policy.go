package collector

import (
	"strconv"
	"strings"
)

// Defaults match the embedded web server of HP LaserJet-class devices.
const (
	DefaultLevelPrefix    = "SupplyPLR"
	DefaultNamePrefix     = "SupplyName"
	DefaultLevelElement   = "span"
	DefaultNameElement    = "h2"
	DefaultSlots          = 6
	DefaultAlertThreshold = 10
	DefaultExcludeKeyword = "kit"
)

// NamingScheme tells the extractor which element ids hold supply names and
// levels. Slot i is read from LevelPrefix+i and NamePrefix+i.
//
// LevelElement and NameElement restrict the match to one tag name; an empty
// value accepts any element carrying the id.
type NamingScheme struct {
	LevelPrefix  string
	NamePrefix   string
	LevelElement string
	NameElement  string
	Slots        int
}

// DefaultNamingScheme returns the scheme used when no configuration overrides it.
func DefaultNamingScheme() NamingScheme {
	return NamingScheme{
		LevelPrefix:  DefaultLevelPrefix,
		NamePrefix:   DefaultNamePrefix,
		LevelElement: DefaultLevelElement,
		NameElement:  DefaultNameElement,
		Slots:        DefaultSlots,
	}
}

// withDefaults fills unset prefixes and the slot bound. Element restrictions
// are left alone since empty means "any tag".
func (s NamingScheme) withDefaults() NamingScheme {
	if strings.TrimSpace(s.LevelPrefix) == "" {
		s.LevelPrefix = DefaultLevelPrefix
	}
	if strings.TrimSpace(s.NamePrefix) == "" {
		s.NamePrefix = DefaultNamePrefix
	}
	if s.Slots <= 0 {
		s.Slots = DefaultSlots
	}
	return s
}

// LevelID returns the element id holding the level text for slot i.
func (s NamingScheme) LevelID(i int) string {
	return s.LevelPrefix + strconv.Itoa(i)
}

// NameID returns the element id holding the supply name for slot i.
func (s NamingScheme) NameID(i int) string {
	return s.NamePrefix + strconv.Itoa(i)
}

// Policy decides when a device is flagged for attention.
type Policy struct {
	// AlertThreshold is the inclusive level at or below which a supply alerts.
	AlertThreshold int
	// ExcludeKeyword names supplies that never alert (maintenance kits).
	ExcludeKeyword string
}

// DefaultPolicy alerts at 10% and ignores maintenance kits.
func DefaultPolicy() Policy {
	return Policy{AlertThreshold: DefaultAlertThreshold, ExcludeKeyword: DefaultExcludeKeyword}
}

// Evaluate derives the device status from its consumables. A device with no
// readings is online.
func (p Policy) Evaluate(consumables []ConsumableReading) Status {
	keyword := strings.ToLower(p.ExcludeKeyword)
	for _, c := range consumables {
		if keyword != "" && strings.Contains(strings.ToLower(c.Name), keyword) {
			continue
		}
		if c.Level <= p.AlertThreshold {
			return StatusAlert
		}
	}
	return StatusOnline
}
