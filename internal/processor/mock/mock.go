package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/applianceshop/core/internal/errors"
	"github.com/applianceshop/core/internal/processor"
)

// Processor is an in-memory payment processor for development and testing.
// Sessions live in a map guarded by a mutex; expiry is evaluated lazily on
// read, so a session past its deadline reports expired even though nothing
// ever swept it.
type Processor struct {
	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	status    string
	expiresAt time.Time
}

// NewProcessor creates a new mock payment processor.
func NewProcessor() *Processor {
	return &Processor{
		sessions: make(map[string]*session),
	}
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "mock"
}

// CreateSession opens a new in-memory checkout session.
func (p *Processor) CreateSession(_ context.Context, input *processor.CreateSessionInput) (*processor.Session, error) {
	ref := "mock_sess_" + uuid.New().String()

	p.mu.Lock()
	p.sessions[ref] = &session{
		status:    processor.StatusPending,
		expiresAt: time.Now().UTC().Add(time.Duration(input.TTL) * time.Second),
	}
	p.mu.Unlock()

	return &processor.Session{
		Ref:         ref,
		RedirectURL: "/pay/" + ref,
		Status:      processor.StatusPending,
	}, nil
}

// GetSession returns the session's current status, expiring it lazily when
// its deadline has passed.
func (p *Processor) GetSession(_ context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[ref]
	if !ok {
		return "", apperrors.NotFound("payment session", ref)
	}

	if s.status == processor.StatusPending && time.Now().UTC().After(s.expiresAt) {
		s.status = processor.StatusExpired
	}

	return s.status, nil
}

// Complete marks a pending session paid, as the hosted payment page would.
func (p *Processor) Complete(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[ref]
	if !ok {
		return apperrors.NotFound("payment session", ref)
	}

	if time.Now().UTC().After(s.expiresAt) {
		s.status = processor.StatusExpired
	}

	switch s.status {
	case processor.StatusExpired:
		return apperrors.Gone("payment session expired")
	case processor.StatusPaid:
		return apperrors.ConflictCode("ALREADY_PAID", "payment session already completed")
	}

	s.status = processor.StatusPaid
	return nil
}
