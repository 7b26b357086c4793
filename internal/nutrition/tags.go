package nutrition

import (
	"sort"
	"strings"
)

// Allergen and diet tags derived from ingredient lists and product names.
const (
	TagPeanut    = "peanut"
	TagTreeNut   = "tree_nut"
	TagMilk      = "milk"
	TagEgg       = "egg"
	TagSoy       = "soy"
	TagGluten    = "gluten"
	TagShellfish = "shellfish"
	TagSesame    = "sesame"

	TagAddedSugar = "contains_added_sugar"
	TagFried      = "fried"
	TagWholeGrain = "whole_grain"
)

// allergenKeywords maps tags to ingredient keywords. Matching is
// substring-based on the lowercased ingredient text, which is how the
// retailer prints ingredient lists (free text, no structure).
var allergenKeywords = map[string][]string{
	TagPeanut:    {"peanut", "groundnut"},
	TagTreeNut:   {"almond", "cashew", "walnut", "pistachio", "hazelnut", "pecan"},
	TagMilk:      {"milk", "butter", "ghee", "cream", "cheese", "paneer", "whey", "curd", "yogurt", "yoghurt"},
	TagEgg:       {"egg"},
	TagSoy:       {"soy", "soya"},
	TagGluten:    {"wheat", "maida", "barley", "rye", "semolina", "sooji", "suji"},
	TagShellfish: {"prawn", "shrimp", "crab", "lobster"},
	TagSesame:    {"sesame", "til "},
}

var dietKeywords = map[string][]string{
	TagAddedSugar: {"sugar", "glucose syrup", "fructose", "jaggery", "honey", "corn syrup"},
	TagFried:      {"fried"},
	TagWholeGrain: {"whole wheat", "whole grain", "oats", "millet", "ragi", "quinoa"},
}

// DeriveTags inspects ingredients and the product name for allergen and
// diet signals. Returns sorted unique tags.
func DeriveTags(ingredients, name string) []string {
	text := strings.ToLower(ingredients + " " + name)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	set := make(map[string]bool)
	for tag, words := range allergenKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				set[tag] = true
				break
			}
		}
	}
	for tag, words := range dietKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				set[tag] = true
				break
			}
		}
	}

	if len(set) == 0 {
		return nil
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
