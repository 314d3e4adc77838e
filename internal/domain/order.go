package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Order status constants.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment status constants. Transitions are forward-only: unpaid may become
// paid or expired, and both of those are terminal.
const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPaid    = "paid"
	PaymentStatusExpired = "expired"
)

// Order represents a customer order. Items, unit prices, and TotalAmount are
// an immutable snapshot taken from the catalog at creation time; later catalog
// price changes never affect an existing order.
type Order struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Status         string      `json:"status"`
	PaymentStatus  string      `json:"payment_status"`
	Items          []OrderItem `json:"items"`
	TotalAmount    int64       `json:"total_amount"`
	Currency       string      `json:"currency"`
	CartHash       string      `json:"-"`
	CardLast4      string      `json:"card_last4,omitempty"`
	CanceledReason string      `json:"canceled_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ValidStatuses returns all valid order statuses.
func ValidStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// AllowedTransitions defines which order status transitions are valid.
// Delivered and cancelled are terminal.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
		OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
		OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
		OrderStatusDelivered:  {},
		OrderStatusCancelled:  {},
	}
}

// CanTransitionTo checks if the order can transition to the target status.
func (o *Order) CanTransitionTo(target string) bool {
	allowed, ok := AllowedTransitions()[o.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// RequiresPayment reports whether the target status demands a settled payment.
// Orders never ship or deliver while unpaid.
func RequiresPayment(target string) bool {
	return target == OrderStatusShipped || target == OrderStatusDelivered
}

// IsTerminal reports whether the order is in a final status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCancelled
}

// CartContentHash computes a stable digest of the cart's product/quantity
// pairs. Orders created from identical cart content hash identically, which
// backs the duplicate-submission guard on order creation.
func CartContentHash(items []CartItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprintf("%s:%d", item.ProductID, item.Quantity)
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
