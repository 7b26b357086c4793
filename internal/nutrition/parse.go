// Package nutrition turns raw label text scraped from product detail pages
// into normalized nutrient entries and derived allergen/diet tags.
package nutrition

import (
	"regexp"
	"strings"
)

// Entry is one raw key/value line from a nutrition label, in label order.
type Entry struct {
	Key   string
	Value string
}

// Label is the parsed form of a "Nutrition Information" attribute value.
type Label struct {
	ServingSize string
	Entries     []Entry
}

var servingRe = regexp.MustCompile(`^Per\s+(.+)$`)

// ParseLabel parses nutrition text of the shape produced by the retailer:
// an optional "Per <serving>" first line followed by "key: value" lines.
// Lines without a colon are skipped.
func ParseLabel(text string) Label {
	var label Label
	if strings.TrimSpace(text) == "" {
		return label
	}

	lines := strings.Split(text, "\n")
	if len(lines) > 0 {
		if m := servingRe.FindStringSubmatch(strings.TrimSpace(lines[0])); m != nil {
			label.ServingSize = strings.TrimSpace(m[1])
			lines = lines[1:]
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		label.Entries = append(label.Entries, Entry{Key: key, Value: value})
	}

	return label
}
