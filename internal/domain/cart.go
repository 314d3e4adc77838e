package domain

import "time"

// Cart represents a shopping cart. At most one entry exists per product ID;
// setting a quantity for a product already in the cart replaces the previous
// quantity.
type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	Currency  string     `json:"currency"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// CartItem represents a single product entry in the cart. Name, Price, and
// ImageURL are display hints refreshed from the catalog on each add; the
// authoritative snapshot is taken when the order is created.
type CartItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"image_url,omitempty"`
}

// TotalAmount calculates the total price of all items in the cart (in cents).
func (c *Cart) TotalAmount() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// ItemCount returns the total number of units across all items.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// IsEmpty reports whether the cart has no items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindItemIndex returns the index of the cart item for the given product ID,
// or -1 if the product is not in the cart.
func (c *Cart) FindItemIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// SetItem adds the item or replaces the existing entry for the same product.
func (c *Cart) SetItem(item CartItem) {
	if i := c.FindItemIndex(item.ProductID); i >= 0 {
		c.Items[i] = item
		return
	}
	c.Items = append(c.Items, item)
}

// RemoveItem deletes the entry for the given product ID if present. It is a
// no-op when the product is not in the cart and reports whether an entry was
// removed.
func (c *Cart) RemoveItem(productID string) bool {
	i := c.FindItemIndex(productID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}
