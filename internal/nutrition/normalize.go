package nutrition

import (
	"regexp"
	"strconv"
	"strings"

	"cravehy/internal/types"
)

// Canonical nutrient keys. Values are stored per serving in the unit the
// key names (grams, milligrams, or kcal).
const (
	KeyEnergyKcal   = "energy_kcal"
	KeyProtein      = "protein_g"
	KeyCarbohydrate = "carbohydrate_g"
	KeySugar        = "sugar_g"
	KeyAddedSugar   = "added_sugar_g"
	KeyFat          = "fat_g"
	KeySaturatedFat = "saturated_fat_g"
	KeyTransFat     = "trans_fat_g"
	KeyFiber        = "fiber_g"
	KeySodium       = "sodium_mg"
	KeyCholesterol  = "cholesterol_mg"
	KeyCalcium      = "calcium_mg"
	KeyIron         = "iron_mg"
)

// keyAliases maps lowercased label keys to canonical keys. Labels in the
// wild are inconsistent; this list covers the variants seen in scraped data.
var keyAliases = map[string]string{
	"energy":                KeyEnergyKcal,
	"energy (kcal)":         KeyEnergyKcal,
	"calories":              KeyEnergyKcal,
	"protein":               KeyProtein,
	"proteins":              KeyProtein,
	"carbohydrate":          KeyCarbohydrate,
	"carbohydrates":         KeyCarbohydrate,
	"total carbohydrate":    KeyCarbohydrate,
	"total carbohydrates":   KeyCarbohydrate,
	"sugar":                 KeySugar,
	"sugars":                KeySugar,
	"total sugar":           KeySugar,
	"total sugars":          KeySugar,
	"added sugar":           KeyAddedSugar,
	"added sugars":          KeyAddedSugar,
	"fat":                   KeyFat,
	"total fat":             KeyFat,
	"saturated fat":         KeySaturatedFat,
	"saturated fatty acids": KeySaturatedFat,
	"trans fat":             KeyTransFat,
	"trans fatty acids":     KeyTransFat,
	"fiber":                 KeyFiber,
	"fibre":                 KeyFiber,
	"dietary fiber":         KeyFiber,
	"dietary fibre":         KeyFiber,
	"sodium":                KeySodium,
	"salt":                  KeySodium,
	"cholesterol":           KeyCholesterol,
	"calcium":               KeyCalcium,
	"iron":                  KeyIron,
}

// gramKeys lists canonical keys denominated in grams; the remainder are
// milligrams except energy.
var gramKeys = map[string]bool{
	KeyProtein:      true,
	KeyCarbohydrate: true,
	KeySugar:        true,
	KeyAddedSugar:   true,
	KeyFat:          true,
	KeySaturatedFat: true,
	KeyTransFat:     true,
	KeyFiber:        true,
}

var valueRe = regexp.MustCompile(`([0-9]+(?:[.,][0-9]+)?)\s*(kcal|kj|mcg|mg|g)?`)

// parseValue extracts the leading numeric quantity and unit from a label
// value such as "12.5 g", "512kcal", or "1,2 g".
func parseValue(raw string) (float64, string, bool) {
	m := valueRe.FindStringSubmatch(strings.ToLower(raw))
	if m == nil {
		return 0, "", false
	}
	num := strings.ReplaceAll(m[1], ",", ".")
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, "", false
	}
	return v, m[2], true
}

// Normalize converts parsed label entries into canonical nutrients.
// Unknown keys and unparseable values are dropped; units are converted to
// the unit each canonical key is denominated in. kJ energy values are
// converted to kcal.
func Normalize(label Label) []types.Nutrient {
	var out []types.Nutrient
	seen := make(map[string]bool)

	for _, e := range label.Entries {
		canon, ok := keyAliases[strings.ToLower(strings.TrimSpace(e.Key))]
		if !ok || seen[canon] {
			continue
		}
		v, unit, ok := parseValue(e.Value)
		if !ok {
			continue
		}

		switch canon {
		case KeyEnergyKcal:
			if unit == "kj" {
				v = v / 4.184
			}
			out = append(out, types.Nutrient{Key: canon, Value: round1(v), Unit: "kcal", Raw: e.Value})
		default:
			if gramKeys[canon] {
				switch unit {
				case "mg":
					v = v / 1000
				case "mcg":
					v = v / 1e6
				}
				out = append(out, types.Nutrient{Key: canon, Value: round2(v), Unit: "g", Raw: e.Value})
			} else {
				switch unit {
				case "g":
					v = v * 1000
				case "mcg":
					v = v / 1000
				}
				out = append(out, types.Nutrient{Key: canon, Value: round1(v), Unit: "mg", Raw: e.Value})
			}
		}
		seen[canon] = true
	}

	return out
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
