package repository

import (
	"context"
	"time"

	"github.com/applianceshop/core/internal/domain"
)

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	UserID  *string
	Status  *string
	Page    int
	PerPage int
}

// CartRepository defines the interface for cart persistence.
type CartRepository interface {
	// Get retrieves a cart by user ID.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// SaveIfVersion persists the cart only if the stored version still equals
	// expectedVersion, bumping the version on success. Returns false when a
	// concurrent writer won.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error)

	// Delete removes a cart by user ID. Deleting an absent cart is a no-op.
	Delete(ctx context.Context, userID string) error
}

// OrderRepository defines the interface for order persistence.
type OrderRepository interface {
	// Create inserts a new order and its items atomically. A duplicate open
	// order for the same user and cart content yields ErrAlreadyExists.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its unique identifier, including items.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// FindOpenByCartHash returns the open unpaid pending order matching the
	// given user and cart content hash, if one exists.
	FindOpenByCartHash(ctx context.Context, userID, cartHash string) (*domain.Order, error)

	// List returns orders matching the given filter along with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// UpdateStatus transitions the order from fromStatus to toStatus. The
	// update is conditional on the current status (and, for statuses that
	// require settled payment, on payment status); losing the race yields
	// ErrConflict.
	UpdateStatus(ctx context.Context, id, fromStatus, toStatus, reason string) error

	// ConfirmPayment atomically settles an unpaid order: decrements catalog
	// stock for every line item, marks the order paid and processing, records
	// the card last4, and completes the payment session. All or nothing.
	ConfirmPayment(ctx context.Context, orderID, sessionID, cardLast4 string) (*domain.Order, error)

	// ExpirePayment marks an unpaid order's payment expired together with its
	// session. Paid orders are left untouched.
	ExpirePayment(ctx context.Context, orderID, sessionID string) error
}

// SessionRepository defines the interface for payment session persistence.
type SessionRepository interface {
	// Create inserts a new payment session.
	Create(ctx context.Context, session *domain.PaymentSession) error

	// GetByRef retrieves a session by its external processor reference.
	GetByRef(ctx context.Context, externalRef string) (*domain.PaymentSession, error)

	// GetActiveByOrder returns the pending session for the order, if any.
	// Expiry is not evaluated here; callers check IsExpired.
	GetActiveByOrder(ctx context.Context, orderID string) (*domain.PaymentSession, error)

	// MarkExpired sets the session status to expired.
	MarkExpired(ctx context.Context, id string) error

	// ListStale returns pending sessions whose deadline passed before the
	// given cutoff, for the background sweep.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentSession, error)
}

// CatalogRepository defines the read/decrement interface over the product
// catalog. The lifecycle engine never creates or reprices products.
type CatalogRepository interface {
	// GetByID retrieves a product by ID.
	GetByID(ctx context.Context, id string) (*domain.Product, error)

	// DecrementStock conditionally subtracts qty from the product's stock.
	// The decrement only applies while stock >= qty; losing the race yields
	// ErrConflict and stock never goes negative.
	DecrementStock(ctx context.Context, id string, qty int) error
}
