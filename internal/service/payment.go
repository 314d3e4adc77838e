package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/applianceshop/core/internal/domain"
	apperrors "github.com/applianceshop/core/internal/errors"
	"github.com/applianceshop/core/internal/event"
	"github.com/applianceshop/core/internal/processor"
	"github.com/applianceshop/core/internal/repository"
)

// CardInput holds the card details entered on the mock payment page.
type CardInput struct {
	Number string `json:"number" validate:"required"`
	Expiry string `json:"expiry" validate:"required"`
	CVC    string `json:"cvc" validate:"required"`
}

// PaymentService drives the checkout session lifecycle. The processor holds
// the authoritative payment state; this service only learns outcomes by
// polling and reconciles them into the order.
type PaymentService struct {
	orders   repository.OrderRepository
	sessions repository.SessionRepository
	proc     processor.Processor
	producer *event.Producer
	logger   *slog.Logger

	sessionTTL   time.Duration
	pollAttempts int
	pollInterval time.Duration
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	orders repository.OrderRepository,
	sessions repository.SessionRepository,
	proc processor.Processor,
	producer *event.Producer,
	logger *slog.Logger,
	sessionTTL time.Duration,
	pollAttempts int,
	pollInterval time.Duration,
) *PaymentService {
	return &PaymentService{
		orders:       orders,
		sessions:     sessions,
		proc:         proc,
		producer:     producer,
		logger:       logger,
		sessionTTL:   sessionTTL,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
	}
}

// InitiateCheckout opens a payment session for a pending unpaid order. An
// order with a live session gets that session back instead of a new one, so
// double-clicking checkout never produces two charges.
func (s *PaymentService) InitiateCheckout(ctx context.Context, orderID string) (*domain.PaymentSession, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.PaymentStatus {
	case domain.PaymentStatusPaid:
		return nil, apperrors.ConflictCode("ALREADY_PAID", "order is already paid")
	case domain.PaymentStatusExpired:
		return nil, apperrors.Gone("payment window for this order has expired")
	}
	if order.Status != domain.OrderStatusPending {
		return nil, apperrors.Conflict(fmt.Sprintf("order in status %s cannot be checked out", order.Status))
	}

	existing, err := s.sessions.GetActiveByOrder(ctx, orderID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	if existing != nil {
		if !existing.IsExpired() {
			return existing, nil
		}
		// The previous session ran out; payment expiry is terminal.
		if err := s.expire(ctx, existing); err != nil {
			return nil, err
		}
		return nil, apperrors.Gone("payment window for this order has expired")
	}

	procSession, err := s.proc.CreateSession(ctx, &processor.CreateSessionInput{
		OrderID:  order.ID,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		TTL:      int64(s.sessionTTL.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &domain.PaymentSession{
		ID:          uuid.New().String(),
		OrderID:     order.ID,
		UserID:      order.UserID,
		Provider:    s.proc.Name(),
		ExternalRef: procSession.Ref,
		RedirectURL: procSession.RedirectURL,
		Status:      domain.SessionStatusPending,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		ExpiresAt:   now.Add(s.sessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	if err := s.producer.PublishPaymentSessionCreated(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment.session_created event",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "checkout initiated",
		slog.String("order_id", order.ID),
		slog.String("session_id", session.ID),
		slog.String("provider", session.Provider),
	)

	return session, nil
}

// CompleteViaMock plays the hosted payment page for the mock processor: it
// validates the card details, settles the order's active session with the
// processor, and reconciles the outcome into the order. Returns the settled
// order.
func (s *PaymentService) CompleteViaMock(ctx context.Context, orderID string, card CardInput) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.PaymentStatus {
	case domain.PaymentStatusPaid:
		return nil, apperrors.ConflictCode("ALREADY_PAID", "order is already paid")
	case domain.PaymentStatusExpired:
		return nil, apperrors.Gone("payment window for this order has expired")
	}

	session, err := s.sessions.GetActiveByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Conflict("no active payment session, initiate checkout first")
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	if session.IsExpired() {
		if err := s.expire(ctx, session); err != nil {
			return nil, err
		}
		return nil, apperrors.Gone("payment session expired")
	}

	if err := validateCard(card); err != nil {
		return nil, err
	}

	if err := s.proc.Complete(ctx, session.ExternalRef); err != nil {
		return nil, err
	}

	order, err = s.confirm(ctx, session, cardLast4(card.Number))
	if err != nil {
		return nil, err
	}

	return order, nil
}

// PollStatus asks the processor for the session's current state and
// reconciles it: a paid session settles the order, an expired one closes the
// payment window for good. Returns the reconciled payment status.
func (s *PaymentService) PollStatus(ctx context.Context, externalRef string) (string, error) {
	session, err := s.sessions.GetByRef(ctx, externalRef)
	if err != nil {
		return "", err
	}

	switch session.Status {
	case domain.SessionStatusCompleted:
		return domain.PaymentStatusPaid, nil
	case domain.SessionStatusExpired:
		return domain.PaymentStatusExpired, nil
	}

	procStatus, err := s.proc.GetSession(ctx, externalRef)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// The processor lost the session; treat the window as closed.
			if expErr := s.expire(ctx, session); expErr != nil {
				return "", expErr
			}
			return domain.PaymentStatusExpired, nil
		}
		return "", apperrors.ServiceUnavailable("payment processor unreachable")
	}

	switch procStatus {
	case processor.StatusPaid:
		if _, err := s.confirm(ctx, session, ""); err != nil {
			return "", err
		}
		return domain.PaymentStatusPaid, nil
	case processor.StatusExpired:
		if err := s.expire(ctx, session); err != nil {
			return "", err
		}
		return domain.PaymentStatusExpired, nil
	}

	if session.IsExpired() {
		if err := s.expire(ctx, session); err != nil {
			return "", err
		}
		return domain.PaymentStatusExpired, nil
	}

	return domain.PaymentStatusUnpaid, nil
}

// WaitForPayment polls the processor on an interval until the session
// resolves or the attempt budget runs out. An exhausted budget with the
// payment still pending is reported as a timeout, a distinct outcome from
// paid or expired: the caller knows the status is unknown, not failed.
func (s *PaymentService) WaitForPayment(ctx context.Context, externalRef string) (string, error) {
	for attempt := 1; attempt <= s.pollAttempts; attempt++ {
		status, err := s.PollStatus(ctx, externalRef)
		if err != nil {
			return "", err
		}
		if status != domain.PaymentStatusUnpaid {
			return status, nil
		}

		if attempt == s.pollAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}

	return "", apperrors.Timeout("payment status unknown, try again later")
}

// SweepStale reconciles pending sessions whose deadline passed but that
// nobody polled. Runs periodically from the app.
func (s *PaymentService) SweepStale(ctx context.Context, limit int) error {
	stale, err := s.sessions.ListStale(ctx, time.Now().UTC(), limit)
	if err != nil {
		return fmt.Errorf("list stale sessions: %w", err)
	}

	for i := range stale {
		session := &stale[i]

		// The processor may have settled the session right at the deadline.
		procStatus, err := s.proc.GetSession(ctx, session.ExternalRef)
		if err == nil && procStatus == processor.StatusPaid {
			if _, err := s.confirm(ctx, session, ""); err != nil {
				s.logger.ErrorContext(ctx, "failed to settle stale session",
					slog.String("session_id", session.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		if err := s.expire(ctx, session); err != nil {
			s.logger.ErrorContext(ctx, "failed to expire stale session",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(stale) > 0 {
		s.logger.InfoContext(ctx, "swept stale payment sessions", slog.Int("count", len(stale)))
	}

	return nil
}

func (s *PaymentService) confirm(ctx context.Context, session *domain.PaymentSession, last4 string) (*domain.Order, error) {
	order, err := s.orders.ConfirmPayment(ctx, session.OrderID, session.ID, last4)
	if err != nil {
		return nil, err
	}

	session.Status = domain.SessionStatusCompleted

	if err := s.producer.PublishPaymentSucceeded(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment.succeeded event",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "payment settled",
		slog.String("order_id", order.ID),
		slog.String("session_id", session.ID),
	)

	return order, nil
}

func (s *PaymentService) expire(ctx context.Context, session *domain.PaymentSession) error {
	if err := s.orders.ExpirePayment(ctx, session.OrderID, session.ID); err != nil {
		return fmt.Errorf("expire payment: %w", err)
	}

	session.Status = domain.SessionStatusExpired

	if err := s.producer.PublishPaymentExpired(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment.expired event",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "payment session expired",
		slog.String("order_id", session.OrderID),
		slog.String("session_id", session.ID),
	)

	return nil
}

// validateCard applies the mock processor's acceptance rules. Any digit
// string of 15 or more is a valid card number; real issuer checks are out of
// scope for a simulated payment page.
func validateCard(card CardInput) error {
	number := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, card.Number)

	if len(number) < 15 || !isDigits(number) {
		return apperrors.PaymentFailed("invalid card number")
	}
	if !strings.Contains(card.Expiry, "/") {
		return apperrors.PaymentFailed("invalid expiry date")
	}
	if len(card.CVC) != 3 || !isDigits(card.CVC) {
		return apperrors.PaymentFailed("invalid security code")
	}

	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func cardLast4(number string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, number)
	if len(digits) < 4 {
		return digits
	}
	return digits[len(digits)-4:]
}
