package rules

import (
	"fmt"
	"math"
	"sort"

	"cravehy/internal/logging"
	"cravehy/internal/nutrition"
	"cravehy/internal/profile"
	"cravehy/internal/types"
)

// Nutrient values are stored as integer milli-units so limit checks can
// use integer comparison.
const milliScale = 1000

// screenRules derives excluded(Id) with a reason predicate per
// constraint kind, and eligible(Id) for everything else.
const screenRules = `
Decl product(Id) bound [/string].
Decl product_nutrient_milli(Id, Key, Milli) bound [/string, /string, /number].
Decl product_tag(Id, Tag) bound [/string, /string].
Decl allergy(Tag) bound [/string].
Decl limit_milli(Key, Max) bound [/string, /number].
Decl diet_excluded(Tag) bound [/string].

violates_allergy(Id) :- product_tag(Id, Tag), allergy(Tag).

violates_limit(Id) :-
    product_nutrient_milli(Id, Key, V),
    limit_milli(Key, Max),
    :lt(Max, V).

diet_conflict(Id) :- product_tag(Id, Tag), diet_excluded(Tag).

excluded(Id) :- violates_allergy(Id).
excluded(Id) :- violates_limit(Id).
excluded(Id) :- diet_conflict(Id).

eligible(Id) :- product(Id), !excluded(Id).
`

// dietExclusions maps diet preferences to product tags they rule out.
var dietExclusions = map[string][]string{
	profile.DietVegetarian: {nutrition.TagEgg, nutrition.TagShellfish},
	profile.DietVegan:      {nutrition.TagEgg, nutrition.TagShellfish, nutrition.TagMilk},
	profile.DietLowSugar:   {nutrition.TagAddedSugar},
	profile.DietLowSodium:  {nutrition.TagFried},
}

// dietDefaultLimits adds nutrient caps implied by a diet when the
// profile declares none of its own for that key.
var dietDefaultLimits = map[string][]profile.NutrientLimit{
	profile.DietLowSugar:  {{Key: nutrition.KeySugar, Max: 10}},
	profile.DietLowSodium: {{Key: nutrition.KeySodium, Max: 400}},
}

// Decision is the screening verdict for one product.
type Decision struct {
	Product  *types.Product
	Eligible bool
	Reasons  []string
}

// Screener screens product sets against a profile.
type Screener struct {
	engine *Engine
}

// NewScreener loads the screening rules into a fresh engine.
func NewScreener() (*Screener, error) {
	e := NewEngine()
	if err := e.LoadRules(screenRules); err != nil {
		return nil, err
	}
	return &Screener{engine: e}, nil
}

// Screen evaluates every product against the profile and returns one
// decision per product, in input order.
func (s *Screener) Screen(products []*types.Product, prof *profile.Profile) ([]Decision, error) {
	timer := logging.StartTimer(logging.CategoryRules, "Screen")
	defer timer.StopWithInfo()

	s.engine.Clear()

	facts := make([]Fact, 0, len(products)*4)
	for _, p := range products {
		facts = append(facts, Fact{"product", []interface{}{p.ProductID}})
		for _, t := range p.Tags {
			facts = append(facts, Fact{"product_tag", []interface{}{p.ProductID, t}})
		}
		for _, n := range p.Nutrients {
			facts = append(facts, Fact{"product_nutrient_milli",
				[]interface{}{p.ProductID, n.Key, toMilli(n.Value)}})
		}
	}
	facts = append(facts, profileFacts(prof)...)

	if err := s.engine.AddFacts(facts); err != nil {
		return nil, err
	}

	eligible, err := s.factIDSet("eligible")
	if err != nil {
		return nil, err
	}

	decisions := make([]Decision, 0, len(products))
	for _, p := range products {
		d := Decision{Product: p, Eligible: eligible[p.ProductID]}
		if !d.Eligible {
			d.Reasons = s.reasonsFor(p, prof)
		}
		decisions = append(decisions, d)
	}

	logging.Rules("Screened %d products for %q: %d eligible", len(products), prof.Name, len(eligible))
	return decisions, nil
}

// Eligible returns just the products that pass screening.
func (s *Screener) Eligible(products []*types.Product, prof *profile.Profile) ([]*types.Product, error) {
	decisions, err := s.Screen(products, prof)
	if err != nil {
		return nil, err
	}
	var out []*types.Product
	for _, d := range decisions {
		if d.Eligible {
			out = append(out, d.Product)
		}
	}
	return out, nil
}

func profileFacts(prof *profile.Profile) []Fact {
	var facts []Fact
	for _, a := range prof.Allergies {
		facts = append(facts, Fact{"allergy", []interface{}{a}})
	}
	for _, t := range dietExclusions[prof.Diet] {
		facts = append(facts, Fact{"diet_excluded", []interface{}{t}})
	}

	limits := make(map[string]float64)
	for _, l := range dietDefaultLimits[prof.Diet] {
		limits[l.Key] = l.Max
	}
	// Explicit limits win over diet defaults
	for _, l := range prof.Limits {
		limits[l.Key] = l.Max
	}
	for key, max := range limits {
		facts = append(facts, Fact{"limit_milli", []interface{}{key, toMilli(max)}})
	}
	return facts
}

// reasonsFor explains why a product was excluded, one reason per
// violated constraint.
func (s *Screener) reasonsFor(p *types.Product, prof *profile.Profile) []string {
	var reasons []string

	if s.engine.Holds("violates_allergy", p.ProductID) {
		for _, t := range p.Tags {
			if prof.HasAllergy(t) {
				reasons = append(reasons, fmt.Sprintf("contains allergen: %s", t))
			}
		}
	}
	if s.engine.Holds("violates_limit", p.ProductID) {
		limits := make(map[string]float64)
		for _, l := range dietDefaultLimits[prof.Diet] {
			limits[l.Key] = l.Max
		}
		for _, l := range prof.Limits {
			limits[l.Key] = l.Max
		}
		for _, n := range p.Nutrients {
			if max, ok := limits[n.Key]; ok && n.Value > max {
				reasons = append(reasons, fmt.Sprintf("%s %.1f exceeds limit %.1f", n.Key, n.Value, max))
			}
		}
	}
	if s.engine.Holds("diet_conflict", p.ProductID) {
		excludedTags := make(map[string]bool)
		for _, t := range dietExclusions[prof.Diet] {
			excludedTags[t] = true
		}
		for _, t := range p.Tags {
			if excludedTags[t] {
				reasons = append(reasons, fmt.Sprintf("conflicts with %s diet: %s", prof.Diet, t))
			}
		}
	}

	sort.Strings(reasons)
	return reasons
}

func (s *Screener) factIDSet(predicate string) (map[string]bool, error) {
	facts, err := s.engine.GetFacts(predicate)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(facts))
	for _, f := range facts {
		if len(f.Args) > 0 {
			if id, ok := f.Args[0].(string); ok {
				set[id] = true
			}
		}
	}
	return set, nil
}

func toMilli(v float64) int64 {
	return int64(math.Round(v * milliScale))
}
