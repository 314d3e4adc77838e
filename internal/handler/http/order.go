package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/applianceshop/core/internal/domain"
	"github.com/applianceshop/core/internal/httputil"
	"github.com/applianceshop/core/internal/middleware"
	"github.com/applianceshop/core/internal/repository"
	"github.com/applianceshop/core/internal/service"
	"github.com/applianceshop/core/internal/validator"
)

// UpdateStatusRequest is the admin request body for changing an order status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// OrderHandler handles order HTTP requests.
type OrderHandler struct {
	svc    *service.OrderService
	logger *slog.Logger
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, logger: logger}
}

// CreateOrder handles POST /api/v1/orders. The order is built from the
// caller's cart; there is no request body.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	order, err := h.svc.CreateOrder(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// GetOrder handles GET /api/v1/orders/{id}. Users can only read their own
// orders; the admin role bypasses the ownership check.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if order.UserID != middleware.UserIDFromContext(r.Context()) &&
		middleware.RoleFromContext(r.Context()) != middleware.RoleAdmin {
		// Existence of someone else's order is not disclosed.
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "order not found"},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// ListOrders handles GET /api/v1/orders, scoped to the caller's own orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	filter, ok := parseOrderFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = &userID

	orders, total, err := h.svc.ListOrders(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK,
		httputil.NewPaginatedResponse(orders, total, filter.Page, filter.PerPage))
}

// AdminListOrders handles GET /api/v1/admin/orders with optional user_id and
// status filters.
func (h *OrderHandler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseOrderFilter(w, r)
	if !ok {
		return
	}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		filter.UserID = &userID
	}

	orders, total, err := h.svc.ListOrders(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK,
		httputil.NewPaginatedResponse(orders, total, filter.Page, filter.PerPage))
}

// AdminUpdateStatus handles PUT /api/v1/admin/orders/{id}/status.
func (h *OrderHandler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req UpdateStatusRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if req.Status == domain.OrderStatusCancelled && req.Reason == "" {
		req.Reason = "cancelled by admin"
	}

	order, err := h.svc.UpdateStatus(r.Context(), id.String(), req.Status, req.Reason)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// parseOrderFilter reads the shared status/page/per_page query parameters.
// It writes a 400 response and returns false on invalid values.
func parseOrderFilter(w http.ResponseWriter, r *http.Request) (repository.OrderFilter, bool) {
	filter := repository.OrderFilter{Page: 1, PerPage: 20}
	q := r.URL.Query()

	if status := q.Get("status"); status != "" {
		filter.Status = &status
	}
	if pageStr := q.Get("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			writeInvalidParam(w, "page must be a positive integer")
			return filter, false
		}
		filter.Page = page
	}
	if perPageStr := q.Get("per_page"); perPageStr != "" {
		perPage, err := strconv.Atoi(perPageStr)
		if err != nil || perPage < 1 || perPage > 100 {
			writeInvalidParam(w, "per_page must be between 1 and 100")
			return filter, false
		}
		filter.PerPage = perPage
	}

	return filter, true
}

func writeInvalidParam(w http.ResponseWriter, message string) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: message},
	})
}
