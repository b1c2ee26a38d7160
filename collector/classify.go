package collector

import "strings"

// Category is the semantic tag of a consumable, derived from its display name.
type Category string

const (
	CategoryYellow  Category = "yellow"
	CategoryMagenta Category = "magenta"
	CategoryCyan    Category = "cyan"
	CategoryBlack   Category = "black"
	CategoryFuser   Category = "fuser"
	CategoryFeeder  Category = "feeder"
	CategoryOther   Category = "other"
)

var categoryColors = map[Category]string{
	CategoryYellow:  "#FFD700",
	CategoryMagenta: "#FF1493",
	CategoryCyan:    "#00BFFF",
	CategoryBlack:   "#000000",
	CategoryFuser:   "#808080",
	CategoryFeeder:  "#A0A0A0",
	CategoryOther:   "#808080",
}

// Color returns the display color for the category as a hex string.
func (c Category) Color() string {
	if hex, ok := categoryColors[c]; ok {
		return hex
	}
	return categoryColors[CategoryOther]
}

// CategoryFromColor recovers a category from its display color. Fuser and the
// neutral category share a color; the neutral category is returned for it.
func CategoryFromColor(hex string) Category {
	switch strings.ToUpper(strings.TrimSpace(hex)) {
	case "#FFD700":
		return CategoryYellow
	case "#FF1493":
		return CategoryMagenta
	case "#00BFFF":
		return CategoryCyan
	case "#000000":
		return CategoryBlack
	case "#A0A0A0":
		return CategoryFeeder
	default:
		return CategoryOther
	}
}

type classifyRule struct {
	category Category
	keywords []string
}

// Order matters: the first matching rule wins, so "Yellow/Black" is yellow.
// Portuguese keywords come from devices deployed with a pt-BR web UI.
var classifyRules = []classifyRule{
	{CategoryYellow, []string{"yellow", "amarelo"}},
	{CategoryMagenta, []string{"magenta"}},
	{CategoryCyan, []string{"cyan", "ciano"}},
	{CategoryBlack, []string{"black", "preto"}},
	{CategoryFuser, []string{"fuser", "fusor"}},
	{CategoryFeeder, []string{"feeder", "alimentador"}},
}

// Classify maps a consumable display name to its category.
func Classify(name string) Category {
	lower := strings.ToLower(name)
	for _, rule := range classifyRules {
		if containsAny(lower, rule.keywords) {
			return rule.category
		}
	}
	return CategoryOther
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
