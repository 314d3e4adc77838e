package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/applianceshop/core/internal/httputil"
	"github.com/applianceshop/core/internal/middleware"
	"github.com/applianceshop/core/internal/service"
	"github.com/applianceshop/core/internal/validator"
)

// CheckoutResponse is returned when a payment session is opened for an order.
type CheckoutResponse struct {
	SessionRef  string `json:"session_ref"`
	RedirectURL string `json:"redirect_url"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ExpiresAt   string `json:"expires_at"`
}

// PaymentStatusResponse reports the settled view of a payment session.
type PaymentStatusResponse struct {
	SessionRef    string `json:"session_ref"`
	PaymentStatus string `json:"payment_status"`
}

// PaymentHandler handles checkout and payment session HTTP requests. It keeps
// a reference to the order service for ownership checks; payment state itself
// lives behind the payment service.
type PaymentHandler struct {
	payments *service.PaymentService
	orders   *service.OrderService
	logger   *slog.Logger
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(payments *service.PaymentService, orders *service.OrderService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, orders: orders, logger: logger}
}

// Checkout handles POST /api/v1/orders/{id}/checkout.
func (h *PaymentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.authorizeOrder(w, r)
	if !ok {
		return
	}

	session, err := h.payments.InitiateCheckout(r.Context(), orderID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: CheckoutResponse{
		SessionRef:  session.ExternalRef,
		RedirectURL: session.RedirectURL,
		Status:      session.Status,
		Amount:      session.Amount,
		Currency:    session.Currency,
		ExpiresAt:   session.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}})
}

// MockPayment handles POST /api/v1/orders/{id}/mock-payment. It simulates the
// hosted payment page: card details are validated, the session is completed
// at the processor, and the order is settled in the same call.
func (h *PaymentHandler) MockPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.authorizeOrder(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var card service.CardInput
	if err := validator.DecodeAndValidate(r, &card); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	order, err := h.payments.CompleteViaMock(r.Context(), orderID, card)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// PollStatus handles GET /api/v1/payments/{sessionRef}/status. A single
// processor round-trip; "unpaid" means the session is still open.
func (h *PaymentHandler) PollStatus(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "sessionRef")

	status, err := h.payments.PollStatus(r.Context(), ref)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: PaymentStatusResponse{
		SessionRef:    ref,
		PaymentStatus: status,
	}})
}

// Verify handles POST /api/v1/payments/{sessionRef}/verify. Unlike PollStatus
// it blocks, re-polling the processor until the outcome is known or the
// attempt budget runs out.
func (h *PaymentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "sessionRef")

	status, err := h.payments.WaitForPayment(r.Context(), ref)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: PaymentStatusResponse{
		SessionRef:    ref,
		PaymentStatus: status,
	}})
}

// authorizeOrder parses the {id} URL parameter and verifies the caller owns
// the order (admins bypass). It writes the error response itself and returns
// ok=false when the caller should stop.
func (h *PaymentHandler) authorizeOrder(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return "", false
	}

	order, err := h.orders.GetOrder(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return "", false
	}

	if order.UserID != middleware.UserIDFromContext(r.Context()) &&
		middleware.RoleFromContext(r.Context()) != middleware.RoleAdmin {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "order not found"},
		})
		return "", false
	}

	return order.ID, true
}
