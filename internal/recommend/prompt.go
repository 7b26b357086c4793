package recommend

import (
	"encoding/json"
	"fmt"
	"strings"

	"cravehy/internal/profile"
	"cravehy/internal/types"
)

const cartSystemPrompt = `You are a grocery shopping assistant that builds healthy carts.
You pick products ONLY from the numbered catalog in the user message, referencing them by product_id.
Respect the stated budget: the sum of price * quantity must not exceed it.
Prefer nutritionally stronger options (more protein and fiber, less sugar and sodium) when alternatives exist.
Respond with a single JSON object and nothing else, in exactly this shape:
{"items": [{"product_id": "...", "quantity": 1, "reason": "..."}], "explanation": "..."}`

// llmCart is the JSON contract the model must produce.
type llmCart struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
		Reason    string `json:"reason"`
	} `json:"items"`
	Explanation string `json:"explanation"`
}

// BuildCartPrompt renders the user prompt: the profile's constraints,
// the budget, the shopper's request if any, and the eligible catalog.
func BuildCartPrompt(prof *profile.Profile, products []*types.Product, budget float64, request string) string {
	var sb strings.Builder

	sb.WriteString("Shopper profile:\n")
	fmt.Fprintf(&sb, "- name: %s\n", prof.Name)
	if prof.Diet != "" {
		fmt.Fprintf(&sb, "- diet: %s\n", prof.Diet)
	}
	if len(prof.Allergies) > 0 {
		fmt.Fprintf(&sb, "- allergies: %s\n", strings.Join(prof.Allergies, ", "))
	}
	for _, l := range prof.Limits {
		fmt.Fprintf(&sb, "- limit: %s at most %.1f\n", l.Key, l.Max)
	}
	if prof.Notes != "" {
		fmt.Fprintf(&sb, "- notes: %s\n", prof.Notes)
	}
	fmt.Fprintf(&sb, "\nBudget: %.2f INR\n", budget)
	if request != "" {
		fmt.Fprintf(&sb, "\nRequest: %s\n", request)
	}

	sb.WriteString("\nCatalog (already screened for this profile):\n")
	for _, p := range products {
		fmt.Fprintf(&sb, "- product_id=%s | %s", p.ProductID, p.Name)
		if p.Brand != "" {
			fmt.Fprintf(&sb, " (%s)", p.Brand)
		}
		if p.Unit != "" {
			fmt.Fprintf(&sb, " | %s", p.Unit)
		}
		fmt.Fprintf(&sb, " | price=%.2f", p.Price)
		if summary := nutrientSummary(p); summary != "" {
			fmt.Fprintf(&sb, " | %s", summary)
		}
		if len(p.Tags) > 0 {
			fmt.Fprintf(&sb, " | tags=%s", strings.Join(p.Tags, ","))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nBuild a cart that covers varied, healthy snacking and staples within the budget.")
	return sb.String()
}

func nutrientSummary(p *types.Product) string {
	var parts []string
	for _, key := range []string{"energy_kcal", "protein_g", "sugar_g", "fiber_g", "sodium_mg"} {
		if v, ok := p.Nutrient(key); ok {
			parts = append(parts, fmt.Sprintf("%s=%.1f", key, v))
		}
	}
	return strings.Join(parts, " ")
}

// ParseCartResponse extracts and decodes the cart JSON from a model
// completion. Tolerates code fences and prose around the object.
func ParseCartResponse(text string) (*llmCart, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var cart llmCart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, fmt.Errorf("decode cart JSON: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("cart has no items")
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == "" {
			return nil, fmt.Errorf("cart item %d has no product_id", i)
		}
		if cart.Items[i].Quantity <= 0 {
			cart.Items[i].Quantity = 1
		}
	}
	return &cart, nil
}

// extractJSONObject returns the first balanced top-level object in text.
func extractJSONObject(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return []byte(text[start : i+1]), nil
			}
		}
	}
	return nil, fmt.Errorf("unterminated JSON object in completion")
}
