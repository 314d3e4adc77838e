package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/applianceshop/core/internal/domain"
	apperrors "github.com/applianceshop/core/internal/errors"
	"github.com/applianceshop/core/internal/repository"
)

func newOrderService(orders *mockOrderRepository, carts *mockCartRepository, catalog *mockCatalogRepository) *OrderService {
	return NewOrderService(orders, carts, catalog, newTestProducer(), newTestLogger())
}

func pendingOrder() *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:            "order-001",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Items: []domain.OrderItem{
			{ID: "item-1", OrderID: "order-001", ProductID: "prod-1", Name: "Front Load Washing Machine", UnitPrice: 49900, Quantity: 2},
		},
		TotalAmount: 99800,
		Currency:    "USD",
		CartHash:    domain.CartContentHash([]domain.CartItem{{ProductID: "prod-1", Quantity: 2}}),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestOrderService_CreateOrder_Success(t *testing.T) {
	orders := new(mockOrderRepository)
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newOrderService(orders, carts, catalog)
	ctx := context.Background()

	cart := testCart()
	cart.Items[0].Quantity = 2
	// Stale display price; the catalog snapshot is authoritative.
	cart.Items[0].Price = 1

	carts.On("Get", ctx, "user-1").Return(cart, nil)
	catalog.On("GetByID", ctx, "prod-1").Return(testProduct(), nil)
	orders.On("Create", ctx, mock.AnythingOfType("*domain.Order")).Return(nil)
	carts.On("Delete", ctx, "user-1").Return(nil)

	order, err := svc.CreateOrder(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, order.PaymentStatus)
	require.Len(t, order.Items, 1)
	// Two units at 499.00 each: 998.00 total, snapshotted from the catalog.
	assert.Equal(t, int64(49900), order.Items[0].UnitPrice)
	assert.Equal(t, int64(99800), order.TotalAmount)
	assert.NotEmpty(t, order.CartHash)

	orders.AssertExpectations(t)
	carts.AssertExpectations(t)
}

func TestOrderService_CreateOrder_EmptyCart(t *testing.T) {
	orders := new(mockOrderRepository)
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newOrderService(orders, carts, catalog)
	ctx := context.Background()

	empty := testCart()
	empty.Items = nil
	carts.On("Get", ctx, "user-1").Return(empty, nil)

	order, err := svc.CreateOrder(ctx, "user-1")
	assert.Nil(t, order)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOrderService_CreateOrder_MissingCart(t *testing.T) {
	orders := new(mockOrderRepository)
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newOrderService(orders, carts, catalog)
	ctx := context.Background()

	carts.On("Get", ctx, "user-1").Return(nil, apperrors.ErrNotFound)

	order, err := svc.CreateOrder(ctx, "user-1")
	assert.Nil(t, order)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOrderService_CreateOrder_InsufficientStock(t *testing.T) {
	orders := new(mockOrderRepository)
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newOrderService(orders, carts, catalog)
	ctx := context.Background()

	cart := testCart()
	cart.Items[0].Quantity = 50

	product := testProduct()
	product.Stock = 3

	carts.On("Get", ctx, "user-1").Return(cart, nil)
	catalog.On("GetByID", ctx, "prod-1").Return(product, nil)

	order, err := svc.CreateOrder(ctx, "user-1")
	assert.Nil(t, order)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)

	orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOrderService_CreateOrder_DuplicateSubmissionReturnsExisting(t *testing.T) {
	orders := new(mockOrderRepository)
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newOrderService(orders, carts, catalog)
	ctx := context.Background()

	cart := testCart()
	cart.Items[0].Quantity = 2
	existing := pendingOrder()

	carts.On("Get", ctx, "user-1").Return(cart, nil)
	catalog.On("GetByID", ctx, "prod-1").Return(testProduct(), nil)
	// A concurrent submission already created the order for this cart content.
	orders.On("Create", ctx, mock.AnythingOfType("*domain.Order")).Return(apperrors.ErrAlreadyExists)
	orders.On("FindOpenByCartHash", ctx, "user-1", existing.CartHash).Return(existing, nil)

	order, err := svc.CreateOrder(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, order.ID)

	// The cart is left alone when the duplicate path wins.
	carts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	orders.AssertExpectations(t)
}

func TestOrderService_CreateOrder_CartClearFailureDoesNotFailOrder(t *testing.T) {
	orders := new(mockOrderRepository)
	carts := new(mockCartRepository)
	catalog := new(mockCatalogRepository)
	svc := newOrderService(orders, carts, catalog)
	ctx := context.Background()

	cart := testCart()
	carts.On("Get", ctx, "user-1").Return(cart, nil)
	catalog.On("GetByID", ctx, "prod-1").Return(testProduct(), nil)
	orders.On("Create", ctx, mock.AnythingOfType("*domain.Order")).Return(nil)
	carts.On("Delete", ctx, "user-1").Return(assert.AnError)

	order, err := svc.CreateOrder(ctx, "user-1")
	require.NoError(t, err)
	assert.NotNil(t, order)
}

func TestOrderService_ListOrders_InvalidStatusFilter(t *testing.T) {
	orders := new(mockOrderRepository)
	svc := newOrderService(orders, new(mockCartRepository), new(mockCatalogRepository))
	ctx := context.Background()

	_, _, err := svc.ListOrders(ctx, repository.OrderFilter{Status: strPtr("teleported")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOrderService_UpdateStatus_Success(t *testing.T) {
	orders := new(mockOrderRepository)
	svc := newOrderService(orders, new(mockCartRepository), new(mockCatalogRepository))
	ctx := context.Background()

	order := pendingOrder()
	orders.On("GetByID", ctx, "order-001").Return(order, nil)
	orders.On("UpdateStatus", ctx, "order-001", domain.OrderStatusPending, domain.OrderStatusCancelled, "customer request").Return(nil)

	updated, err := svc.UpdateStatus(ctx, "order-001", domain.OrderStatusCancelled, "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, updated.Status)
	assert.Equal(t, "customer request", updated.CanceledReason)

	orders.AssertExpectations(t)
}

func TestOrderService_UpdateStatus_InvalidTransition(t *testing.T) {
	orders := new(mockOrderRepository)
	svc := newOrderService(orders, new(mockCartRepository), new(mockCatalogRepository))
	ctx := context.Background()

	order := pendingOrder() // pending cannot jump straight to delivered
	orders.On("GetByID", ctx, "order-001").Return(order, nil)

	updated, err := svc.UpdateStatus(ctx, "order-001", domain.OrderStatusDelivered, "")
	assert.Nil(t, updated)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INVALID_TRANSITION", appErr.Code)

	orders.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderService_UpdateStatus_UnknownStatus(t *testing.T) {
	orders := new(mockOrderRepository)
	svc := newOrderService(orders, new(mockCartRepository), new(mockCatalogRepository))
	ctx := context.Background()

	updated, err := svc.UpdateStatus(ctx, "order-001", "vanished", "")
	assert.Nil(t, updated)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestOrderService_UpdateStatus_ShipUnpaidRejected(t *testing.T) {
	orders := new(mockOrderRepository)
	svc := newOrderService(orders, new(mockCartRepository), new(mockCatalogRepository))
	ctx := context.Background()

	order := pendingOrder()
	order.Status = domain.OrderStatusProcessing // unreachable unpaid in practice, but the guard must hold
	orders.On("GetByID", ctx, "order-001").Return(order, nil)

	updated, err := svc.UpdateStatus(ctx, "order-001", domain.OrderStatusShipped, "")
	assert.Nil(t, updated)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAYMENT_REQUIRED", appErr.Code)
}

func TestOrderService_UpdateStatus_TerminalStatesFrozen(t *testing.T) {
	orders := new(mockOrderRepository)
	svc := newOrderService(orders, new(mockCartRepository), new(mockCatalogRepository))
	ctx := context.Background()

	for _, terminal := range []string{domain.OrderStatusDelivered, domain.OrderStatusCancelled} {
		order := pendingOrder()
		order.Status = terminal
		order.PaymentStatus = domain.PaymentStatusPaid
		orders.On("GetByID", ctx, "order-001").Return(order, nil).Once()

		_, err := svc.UpdateStatus(ctx, "order-001", domain.OrderStatusProcessing, "")
		assert.ErrorIs(t, err, apperrors.ErrConflict, "terminal status %s must not move", terminal)
	}
}

func TestOrderService_UpdateStatus_LostRace(t *testing.T) {
	orders := new(mockOrderRepository)
	svc := newOrderService(orders, new(mockCartRepository), new(mockCatalogRepository))
	ctx := context.Background()

	order := pendingOrder()
	orders.On("GetByID", ctx, "order-001").Return(order, nil)
	orders.On("UpdateStatus", ctx, "order-001", domain.OrderStatusPending, domain.OrderStatusCancelled, "").
		Return(apperrors.ConflictCode("INVALID_TRANSITION", "order cannot move from pending to cancelled"))

	updated, err := svc.UpdateStatus(ctx, "order-001", domain.OrderStatusCancelled, "")
	assert.Nil(t, updated)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}
