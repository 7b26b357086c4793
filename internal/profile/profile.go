// Package profile defines the health profiles that drive product
// screening and cart recommendations.
package profile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cravehy/internal/nutrition"
	"cravehy/internal/store"
)

// Diet preferences a profile can declare. Most diets carry screening
// rules (tag exclusions or implied nutrient caps); high_fiber has no
// hard rule, since most low-fiber products are still fine to buy, and
// only steers the cart model through the prompt's diet line.
const (
	DietNone       = ""
	DietVegetarian = "vegetarian"
	DietVegan      = "vegan"
	DietLowSugar   = "low_sugar"
	DietLowSodium  = "low_sodium"
	DietHighFiber  = "high_fiber"
)

var validDiets = map[string]bool{
	DietNone:       true,
	DietVegetarian: true,
	DietVegan:      true,
	DietLowSugar:   true,
	DietLowSodium:  true,
	DietHighFiber:  true,
}

var validAllergies = map[string]bool{
	nutrition.TagPeanut:    true,
	nutrition.TagTreeNut:   true,
	nutrition.TagMilk:      true,
	nutrition.TagEgg:       true,
	nutrition.TagSoy:       true,
	nutrition.TagGluten:    true,
	nutrition.TagShellfish: true,
	nutrition.TagSesame:    true,
}

// NutrientLimit caps a normalized nutrient per 100 g or per serving as
// printed on the label.
type NutrientLimit struct {
	Key string  `json:"key"` // canonical nutrient key, e.g. sodium_mg
	Max float64 `json:"max"`
}

// Profile is a named set of dietary constraints and preferences.
type Profile struct {
	Name      string          `json:"name"`
	Diet      string          `json:"diet,omitempty"`
	Allergies []string        `json:"allergies,omitempty"`
	Limits    []NutrientLimit `json:"limits,omitempty"`
	// Budget is the default cart budget in rupees. Zero means no default.
	Budget    float64   `json:"budget,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks diet, allergy and limit values.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if !validDiets[p.Diet] {
		return fmt.Errorf("unknown diet %q (valid: vegetarian, vegan, low_sugar, low_sodium, high_fiber)", p.Diet)
	}
	for _, a := range p.Allergies {
		if !validAllergies[a] {
			return fmt.Errorf("unknown allergy %q (valid: %s)", a, strings.Join(AllergyNames(), ", "))
		}
	}
	for _, l := range p.Limits {
		if l.Key == "" {
			return fmt.Errorf("nutrient limit missing key")
		}
		if l.Max < 0 {
			return fmt.Errorf("nutrient limit for %s is negative", l.Key)
		}
	}
	if p.Budget < 0 {
		return fmt.Errorf("budget is negative")
	}
	return nil
}

// HasAllergy reports whether the profile declares the given allergen.
func (p *Profile) HasAllergy(tag string) bool {
	for _, a := range p.Allergies {
		if a == tag {
			return true
		}
	}
	return false
}

// Limit returns the cap for a nutrient key, if declared.
func (p *Profile) Limit(key string) (float64, bool) {
	for _, l := range p.Limits {
		if l.Key == key {
			return l.Max, true
		}
	}
	return 0, false
}

// AllergyNames returns the supported allergy tags, sorted.
func AllergyNames() []string {
	names := make([]string, 0, len(validAllergies))
	for a := range validAllergies {
		names = append(names, a)
	}
	sort.Strings(names)
	return names
}

// Save validates and persists a profile.
func Save(st *store.Store, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return st.SaveProfile(p.Name, data)
}

// Load retrieves a profile by name.
func Load(st *store.Store, name string) (*Profile, error) {
	data, err := st.GetProfile(name)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", name, err)
	}
	return &p, nil
}

// FromJSON parses and validates a profile from raw JSON, as supplied on
// the command line or from a file.
func FromJSON(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
