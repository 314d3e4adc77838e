package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/applianceshop/core/internal/database"
	"github.com/applianceshop/core/internal/domain"
	apperrors "github.com/applianceshop/core/internal/errors"
)

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool database.DBTX
}

// NewSessionRepository creates a new PostgreSQL-backed payment session repository.
func NewSessionRepository(pool database.DBTX) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a new payment session.
func (r *SessionRepository) Create(ctx context.Context, s *domain.PaymentSession) error {
	query := `
		INSERT INTO payment_sessions (id, order_id, user_id, provider, external_ref, redirect_url, status, amount, currency, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.OrderID,
		s.UserID,
		s.Provider,
		s.ExternalRef,
		s.RedirectURL,
		s.Status,
		s.Amount,
		s.Currency,
		s.ExpiresAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment session: %w", err)
	}

	return nil
}

// GetByRef retrieves a session by its external processor reference.
func (r *SessionRepository) GetByRef(ctx context.Context, externalRef string) (*domain.PaymentSession, error) {
	query := `
		SELECT id, order_id, user_id, provider, external_ref, redirect_url, status, amount, currency, expires_at, created_at, updated_at
		FROM payment_sessions
		WHERE external_ref = $1`

	s, err := r.scanSession(r.pool.QueryRow(ctx, query, externalRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment session", externalRef)
		}
		return nil, fmt.Errorf("scan payment session: %w", err)
	}

	return s, nil
}

// GetActiveByOrder returns the most recent pending session for the order.
// Expiry is not evaluated here; callers decide what an overdue session means.
func (r *SessionRepository) GetActiveByOrder(ctx context.Context, orderID string) (*domain.PaymentSession, error) {
	query := `
		SELECT id, order_id, user_id, provider, external_ref, redirect_url, status, amount, currency, expires_at, created_at, updated_at
		FROM payment_sessions
		WHERE order_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`

	s, err := r.scanSession(r.pool.QueryRow(ctx, query, orderID, domain.SessionStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan payment session: %w", err)
	}

	return s, nil
}

// MarkExpired sets a session's status to expired if it is still pending.
func (r *SessionRepository) MarkExpired(ctx context.Context, id string) error {
	query := `
		UPDATE payment_sessions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`

	_, err := r.pool.Exec(ctx, query, domain.SessionStatusExpired, time.Now().UTC(), id, domain.SessionStatusPending)
	if err != nil {
		return fmt.Errorf("mark session expired: %w", err)
	}

	return nil
}

// ListStale returns pending sessions whose deadline passed before the cutoff.
// The background sweep uses this to reconcile sessions nobody polled.
func (r *SessionRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentSession, error) {
	query := `
		SELECT id, order_id, user_id, provider, external_ref, redirect_url, status, amount, currency, expires_at, created_at, updated_at
		FROM payment_sessions
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, domain.SessionStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.PaymentSession, 0)
	for rows.Next() {
		var s domain.PaymentSession
		if err := rows.Scan(
			&s.ID,
			&s.OrderID,
			&s.UserID,
			&s.Provider,
			&s.ExternalRef,
			&s.RedirectURL,
			&s.Status,
			&s.Amount,
			&s.Currency,
			&s.ExpiresAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale session rows: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepository) scanSession(row pgx.Row) (*domain.PaymentSession, error) {
	var s domain.PaymentSession
	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.UserID,
		&s.Provider,
		&s.ExternalRef,
		&s.RedirectURL,
		&s.Status,
		&s.Amount,
		&s.Currency,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
