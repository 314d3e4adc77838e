package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	apperrors "github.com/applianceshop/core/internal/errors"
	"github.com/applianceshop/core/internal/httpclient"
	"github.com/applianceshop/core/internal/processor"
)

// Processor talks to an external hosted payment page over HTTP. Calls go
// through the retrying client behind a circuit breaker, so a flapping
// processor degrades to fast ServiceUnavailable responses instead of piling
// up blocked checkouts.
type Processor struct {
	baseURL string
	client  *httpclient.CircuitBreakerClient
	logger  *slog.Logger
}

// NewProcessor creates a hosted payment processor client.
func NewProcessor(baseURL string, logger *slog.Logger) *Processor {
	client := httpclient.New(httpclient.DefaultConfig())
	cb := httpclient.NewCircuitBreakerClient(client, httpclient.DefaultCircuitBreakerConfig("payment-processor"), logger)

	return &Processor{
		baseURL: baseURL,
		client:  cb,
		logger:  logger,
	}
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "hosted"
}

type createSessionRequest struct {
	OrderID    string `json:"order_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type sessionResponse struct {
	Ref         string `json:"ref"`
	RedirectURL string `json:"redirect_url"`
	Status      string `json:"status"`
}

// CreateSession opens a checkout session with the hosted processor.
func (p *Processor) CreateSession(ctx context.Context, input *processor.CreateSessionInput) (*processor.Session, error) {
	body, err := json.Marshal(createSessionRequest{
		OrderID:    input.OrderID,
		Amount:     input.Amount,
		Currency:   input.Currency,
		TTLSeconds: input.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	resp, err := p.client.Post(ctx, p.baseURL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("payment processor unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "payment-processor")
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}

	return &processor.Session{
		Ref:         sr.Ref,
		RedirectURL: sr.RedirectURL,
		Status:      sr.Status,
	}, nil
}

// GetSession returns the processor's current status for a session.
func (p *Processor) GetSession(ctx context.Context, ref string) (string, error) {
	resp, err := p.client.Get(ctx, p.baseURL+"/v1/sessions/"+ref)
	if err != nil {
		return "", apperrors.ServiceUnavailable("payment processor unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", httpclient.ParseResponseError(resp, "payment-processor")
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}

	return sr.Status, nil
}

// Complete asks the hosted processor to settle a session. The hosted page
// normally drives this itself; the endpoint exists for reconciliation tools.
func (p *Processor) Complete(ctx context.Context, ref string) error {
	resp, err := p.client.Post(ctx, p.baseURL+"/v1/sessions/"+ref+"/complete", "application/json", nil)
	if err != nil {
		return apperrors.ServiceUnavailable("payment processor unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return httpclient.ParseResponseError(resp, "payment-processor")
	}

	return nil
}
