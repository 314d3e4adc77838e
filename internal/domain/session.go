package domain

import "time"

// Payment session status constants.
const (
	SessionStatusPending   = "pending"
	SessionStatusCompleted = "completed"
	SessionStatusExpired   = "expired"
)

// PaymentSession represents one checkout attempt against the payment
// processor. At most one active (pending, unexpired) session exists per order;
// repeated checkout initiation returns the existing session.
type PaymentSession struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	ExternalRef string    `json:"external_ref"`
	RedirectURL string    `json:"redirect_url"`
	Status      string    `json:"status"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsExpired checks whether the session has passed its expiry time. Expiry is
// evaluated lazily; a session row may still read "pending" after its deadline.
func (s *PaymentSession) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// IsActive reports whether the session is pending and within its TTL.
func (s *PaymentSession) IsActive() bool {
	return s.Status == SessionStatusPending && !s.IsExpired()
}

// IsTerminal returns true if the session reached a final state.
func (s *PaymentSession) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusExpired
}
