package mock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/applianceshop/core/internal/errors"
	"github.com/applianceshop/core/internal/processor"
)

func TestProcessor_CreateSession(t *testing.T) {
	p := NewProcessor()

	s, err := p.CreateSession(context.Background(), &processor.CreateSessionInput{
		OrderID:  "order-001",
		Amount:   99800,
		Currency: "USD",
		TTL:      1800,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s.Ref, "mock_sess_"))
	assert.Equal(t, "/pay/"+s.Ref, s.RedirectURL)
	assert.Equal(t, processor.StatusPending, s.Status)

	status, err := p.GetSession(context.Background(), s.Ref)
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPending, status)
}

func TestProcessor_Complete(t *testing.T) {
	p := NewProcessor()

	s, err := p.CreateSession(context.Background(), &processor.CreateSessionInput{TTL: 1800})
	require.NoError(t, err)

	require.NoError(t, p.Complete(context.Background(), s.Ref))

	status, err := p.GetSession(context.Background(), s.Ref)
	require.NoError(t, err)
	assert.Equal(t, processor.StatusPaid, status)

	// Completing twice is rejected.
	err = p.Complete(context.Background(), s.Ref)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestProcessor_LazyExpiry(t *testing.T) {
	p := NewProcessor()

	s, err := p.CreateSession(context.Background(), &processor.CreateSessionInput{TTL: 0})
	require.NoError(t, err)

	// Deadline already passed; the next read flips the session to expired.
	time.Sleep(5 * time.Millisecond)

	status, err := p.GetSession(context.Background(), s.Ref)
	require.NoError(t, err)
	assert.Equal(t, processor.StatusExpired, status)

	err = p.Complete(context.Background(), s.Ref)
	assert.ErrorIs(t, err, apperrors.ErrGone)
}

func TestProcessor_UnknownRef(t *testing.T) {
	p := NewProcessor()

	_, err := p.GetSession(context.Background(), "mock_sess_unknown")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = p.Complete(context.Background(), "mock_sess_unknown")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
