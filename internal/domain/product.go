package domain

import "time"

// Product is the catalog read model consulted by the cart and order flows.
// Price is in minor currency units (cents).
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	Category    string    `json:"category,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasStock reports whether at least qty units are available.
func (p *Product) HasStock(qty int) bool {
	return p.Stock >= qty
}
