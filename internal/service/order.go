package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/applianceshop/core/internal/domain"
	apperrors "github.com/applianceshop/core/internal/errors"
	"github.com/applianceshop/core/internal/event"
	"github.com/applianceshop/core/internal/repository"
)

// OrderService implements the business logic for order operations.
type OrderService struct {
	repo     repository.OrderRepository
	carts    repository.CartRepository
	catalog  repository.CatalogRepository
	producer *event.Producer
	logger   *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(repo repository.OrderRepository, carts repository.CartRepository, catalog repository.CatalogRepository, producer *event.Producer, logger *slog.Logger) *OrderService {
	return &OrderService{
		repo:     repo,
		carts:    carts,
		catalog:  catalog,
		producer: producer,
		logger:   logger,
	}
}

// CreateOrder turns the user's cart into a pending order. Every line is
// re-validated against the catalog and snapshotted at the catalog's current
// price; the cart's display prices are hints only. Submitting the same cart
// content twice returns the already-open order instead of creating a second
// one. The cart is cleared after the order commits.
func (s *OrderService) CreateOrder(ctx context.Context, userID string) (*domain.Order, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.InvalidInput("cart is empty")
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, apperrors.InvalidInput("cart is empty")
	}

	now := time.Now().UTC()
	orderID := uuid.New().String()

	var totalAmount int64
	items := make([]domain.OrderItem, len(cart.Items))
	for i, cartItem := range cart.Items {
		product, err := s.catalog.GetByID(ctx, cartItem.ProductID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.ConflictCode("PRODUCT_UNAVAILABLE",
					fmt.Sprintf("product %s is no longer available", cartItem.ProductID))
			}
			return nil, fmt.Errorf("lookup product: %w", err)
		}
		if !product.HasStock(cartItem.Quantity) {
			return nil, apperrors.ConflictCode("INSUFFICIENT_STOCK",
				fmt.Sprintf("only %d units of %s available", product.Stock, product.Name))
		}

		items[i] = domain.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  cartItem.Quantity,
		}
		totalAmount += items[i].LineTotal()
	}

	order := &domain.Order{
		ID:            orderID,
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Items:         items,
		TotalAmount:   totalAmount,
		Currency:      cart.Currency,
		CartHash:      domain.CartContentHash(cart.Items),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			// A concurrent submission of the same cart content won the race.
			existing, findErr := s.repo.FindOpenByCartHash(ctx, userID, order.CartHash)
			if findErr != nil {
				return nil, fmt.Errorf("find duplicate order: %w", findErr)
			}
			s.logger.InfoContext(ctx, "duplicate order submission, returning existing order",
				slog.String("user_id", userID),
				slog.String("order_id", existing.ID),
			)
			return existing, nil
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.carts.Delete(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear cart after order creation",
			slog.String("user_id", userID),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishOrderCreated(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", orderID),
		slog.String("user_id", userID),
		slog.Int64("total_amount", totalAmount),
		slog.Int("items", len(items)),
	)

	return order, nil
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}
	return s.repo.GetByID(ctx, id)
}

// ListOrders returns orders matching the filter with the total count.
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	if filter.Status != nil && !domain.IsValidStatus(*filter.Status) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid status: %s", *filter.Status))
	}
	return s.repo.List(ctx, filter)
}

// UpdateStatus moves an order along its lifecycle. Transitions outside the
// allowed graph are rejected, and shipped/delivered additionally demand a
// settled payment. The underlying update is conditional on the status read
// here, so two concurrent updates cannot both apply.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, targetStatus, reason string) (*domain.Order, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order id is required")
	}
	if !domain.IsValidStatus(targetStatus) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid status: %s", targetStatus))
	}

	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !order.CanTransitionTo(targetStatus) {
		return nil, apperrors.ConflictCode("INVALID_TRANSITION",
			fmt.Sprintf("order cannot move from %s to %s", order.Status, targetStatus))
	}
	if domain.RequiresPayment(targetStatus) && order.PaymentStatus != domain.PaymentStatusPaid {
		return nil, apperrors.ConflictCode("PAYMENT_REQUIRED",
			fmt.Sprintf("order must be paid before moving to %s", targetStatus))
	}

	fromStatus := order.Status
	if err := s.repo.UpdateStatus(ctx, orderID, fromStatus, targetStatus, reason); err != nil {
		return nil, err
	}

	order.Status = targetStatus
	order.CanceledReason = reason
	order.UpdatedAt = time.Now().UTC()

	if err := s.producer.PublishOrderStatusChanged(ctx, order, fromStatus, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order status updated",
		slog.String("order_id", orderID),
		slog.String("from", fromStatus),
		slog.String("to", targetStatus),
	)

	return order, nil
}
