package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/applianceshop/core/internal/domain"
	"github.com/applianceshop/core/internal/event"
	"github.com/applianceshop/core/internal/httputil"
	pkgkafka "github.com/applianceshop/core/internal/kafka"
	"github.com/applianceshop/core/internal/middleware"
	"github.com/applianceshop/core/internal/processor"
	"github.com/applianceshop/core/internal/repository"
	"github.com/applianceshop/core/internal/service"
)

// --- Mock Repositories ---

type mockCartRepository struct {
	mock.Mock
}

func (m *mockCartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Cart), args.Error(1)
}

func (m *mockCartRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error) {
	args := m.Called(ctx, cart, expectedVersion)
	return args.Bool(0), args.Error(1)
}

func (m *mockCartRepository) Delete(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) FindOpenByCartHash(ctx context.Context, userID, cartHash string) (*domain.Order, error) {
	args := m.Called(ctx, userID, cartHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}

func (m *mockOrderRepository) UpdateStatus(ctx context.Context, id, fromStatus, toStatus, reason string) error {
	args := m.Called(ctx, id, fromStatus, toStatus, reason)
	return args.Error(0)
}

func (m *mockOrderRepository) ConfirmPayment(ctx context.Context, orderID, sessionID, cardLast4 string) (*domain.Order, error) {
	args := m.Called(ctx, orderID, sessionID, cardLast4)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) ExpirePayment(ctx context.Context, orderID, sessionID string) error {
	args := m.Called(ctx, orderID, sessionID)
	return args.Error(0)
}

type mockSessionRepository struct {
	mock.Mock
}

func (m *mockSessionRepository) Create(ctx context.Context, session *domain.PaymentSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockSessionRepository) GetByRef(ctx context.Context, externalRef string) (*domain.PaymentSession, error) {
	args := m.Called(ctx, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentSession), args.Error(1)
}

func (m *mockSessionRepository) GetActiveByOrder(ctx context.Context, orderID string) (*domain.PaymentSession, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentSession), args.Error(1)
}

func (m *mockSessionRepository) MarkExpired(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PaymentSession, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PaymentSession), args.Error(1)
}

type mockCatalogRepository struct {
	mock.Mock
}

func (m *mockCatalogRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

func (m *mockCatalogRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	args := m.Called(ctx, id, qty)
	return args.Error(0)
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Name() string {
	return "mock"
}

func (m *mockProcessor) CreateSession(ctx context.Context, input *processor.CreateSessionInput) (*processor.Session, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.Session), args.Error(1)
}

func (m *mockProcessor) GetSession(ctx context.Context, ref string) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}

func (m *mockProcessor) Complete(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

// --- Test Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEventProducer builds an event producer whose broker does not exist;
// publish failures are logged and swallowed by the services.
func testEventProducer() *event.Producer {
	logger := testLogger()
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	return event.NewProducer(pkgkafka.NewProducer(kafkaCfg, logger), logger)
}

// testEnv bundles the mocked repositories with a router matching the
// production route layout.
type testEnv struct {
	carts    *mockCartRepository
	orders   *mockOrderRepository
	sessions *mockSessionRepository
	catalog  *mockCatalogRepository
	proc     *mockProcessor
	router   *chi.Mux
}

func setupEnv() *testEnv {
	env := &testEnv{
		carts:    new(mockCartRepository),
		orders:   new(mockOrderRepository),
		sessions: new(mockSessionRepository),
		catalog:  new(mockCatalogRepository),
		proc:     new(mockProcessor),
	}

	logger := testLogger()
	producer := testEventProducer()

	cartService := service.NewCartService(env.carts, env.catalog, producer, logger, 168*time.Hour)
	orderService := service.NewOrderService(env.orders, env.carts, env.catalog, producer, logger)
	paymentService := service.NewPaymentService(env.orders, env.sessions, env.proc, producer, logger,
		30*time.Minute, 3, time.Millisecond)

	cartHandler := NewCartHandler(cartService, logger)
	orderHandler := NewOrderHandler(orderService, logger)
	paymentHandler := NewPaymentHandler(paymentService, orderService, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Identity)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.SetItem)
			r.Delete("/items/{productID}", cartHandler.RemoveItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orderHandler.CreateOrder)
			r.Get("/", orderHandler.ListOrders)
			r.Get("/{id}", orderHandler.GetOrder)
			r.Post("/{id}/checkout", paymentHandler.Checkout)
			r.Post("/{id}/mock-payment", paymentHandler.MockPayment)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/{sessionRef}/status", paymentHandler.PollStatus)
			r.Post("/{sessionRef}/verify", paymentHandler.Verify)
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Get("/", orderHandler.AdminListOrders)
			r.Put("/{id}/status", orderHandler.AdminUpdateStatus)
		})
	})

	env.router = r
	return env
}

// authedRequest builds a request carrying the gateway identity headers.
func authedRequest(method, target string, body []byte, userID, role string) *http.Request {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	return req
}

// decodeResponse reads the response body into the httputil.Response struct.
func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp
}

// sampleProduct returns a realistic catalog product for test expectations.
func sampleProduct() *domain.Product {
	now := time.Now().UTC()
	return &domain.Product{
		ID:        "550e8400-e29b-41d4-a716-446655440020",
		Name:      "Front Load Washing Machine",
		Price:     49900,
		Stock:     10,
		Category:  "laundry",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// sampleCart returns a cart holding two units of the sample product.
func sampleCart() *domain.Cart {
	now := time.Now().UTC()
	return &domain.Cart{
		ID:       "550e8400-e29b-41d4-a716-446655440030",
		UserID:   "user-456",
		Currency: "USD",
		Version:  1,
		Items: []domain.CartItem{
			{
				ProductID: "550e8400-e29b-41d4-a716-446655440020",
				Name:      "Front Load Washing Machine",
				Price:     49900,
				Quantity:  2,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(168 * time.Hour),
	}
}

// sampleOrder returns a pending unpaid order for user-456.
func sampleOrder() *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:            "550e8400-e29b-41d4-a716-446655440001",
		UserID:        "user-456",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		Items: []domain.OrderItem{
			{
				ID:        "550e8400-e29b-41d4-a716-446655440010",
				OrderID:   "550e8400-e29b-41d4-a716-446655440001",
				ProductID: "550e8400-e29b-41d4-a716-446655440020",
				Name:      "Front Load Washing Machine",
				UnitPrice: 49900,
				Quantity:  2,
			},
		},
		TotalAmount: 99800,
		Currency:    "USD",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// sampleSession returns a live pending payment session for the sample order.
func sampleSession() *domain.PaymentSession {
	now := time.Now().UTC()
	return &domain.PaymentSession{
		ID:          "550e8400-e29b-41d4-a716-446655440040",
		OrderID:     "550e8400-e29b-41d4-a716-446655440001",
		UserID:      "user-456",
		Provider:    "mock",
		ExternalRef: "mock_sess_550e8400-e29b-41d4-a716-446655440041",
		RedirectURL: "/pay/mock_sess_550e8400-e29b-41d4-a716-446655440041",
		Status:      domain.SessionStatusPending,
		Amount:      99800,
		Currency:    "USD",
		ExpiresAt:   now.Add(30 * time.Minute),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
