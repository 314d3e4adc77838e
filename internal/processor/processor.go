package processor

import (
	"context"
)

// Session statuses as reported by the payment processor.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusExpired = "expired"
)

// CreateSessionInput holds the parameters for opening a checkout session.
type CreateSessionInput struct {
	OrderID  string
	Amount   int64
	Currency string
	TTL      int64 // seconds
}

// Session holds the processor-side view of a checkout session.
type Session struct {
	Ref         string
	RedirectURL string
	Status      string
}

// Processor defines the interface for payment processor integrations. The
// processor holds the authoritative payment state; the storefront only learns
// outcomes by asking.
type Processor interface {
	// Name returns the processor name (e.g., "mock", "hosted").
	Name() string

	// CreateSession opens a checkout session with the processor.
	CreateSession(ctx context.Context, input *CreateSessionInput) (*Session, error)

	// GetSession returns the current status of a session by its reference.
	GetSession(ctx context.Context, ref string) (string, error)

	// Complete marks the session paid, as the hosted payment page would after
	// a successful card entry.
	Complete(ctx context.Context, ref string) error
}
