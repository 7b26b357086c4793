package types

import "time"

// CartItem is one recommended product with purchase quantity.
type CartItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Reason    string  `json:"reason,omitempty"`
}

// Cart is a recommended shopping cart for a health profile.
type Cart struct {
	ID          string     `json:"id"`
	ProfileName string     `json:"profile_name"`
	Budget      float64    `json:"budget,omitempty"`
	Items       []CartItem `json:"items"`
	Explanation string     `json:"explanation,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Total returns the cart total across all items.
func (c *Cart) Total() float64 {
	var total float64
	for _, it := range c.Items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}
