package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/applianceshop/core/internal/domain"
	pkgkafka "github.com/applianceshop/core/internal/kafka"
)

// Kafka topic constants for storefront domain events.
const (
	TopicCartUpdated           = "shop.cart.updated"
	TopicCartCleared           = "shop.cart.cleared"
	TopicOrderCreated          = "shop.order.created"
	TopicOrderStatusChanged    = "shop.order.status_changed"
	TopicPaymentSessionCreated = "shop.payment.session_created"
	TopicPaymentSucceeded      = "shop.payment.succeeded"
	TopicPaymentExpired        = "shop.payment.expired"
)

// Aggregate type constants.
const (
	AggregateTypeCart    = "cart"
	AggregateTypeOrder   = "order"
	AggregateTypeSession = "payment_session"
)

// Source identifier for events originating from this service.
const SourceStorefront = "storefront-core"

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	UserID      string         `json:"user_id"`
	Items       []CartItemData `json:"items"`
	ItemCount   int            `json:"item_count"`
	TotalAmount int64          `json:"total_amount"`
	Currency    string         `json:"currency"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	UserID string `json:"user_id"`
}

// OrderCreatedData is the payload for an order.created event.
type OrderCreatedData struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
	ItemCount   int    `json:"item_count"`
}

// OrderStatusChangedData is the payload for an order.status_changed event.
type OrderStatusChangedData struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason,omitempty"`
}

// PaymentSessionData is the payload for payment session lifecycle events.
type PaymentSessionData struct {
	SessionID   string `json:"session_id"`
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	ExternalRef string `json:"external_ref"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// Producer publishes storefront domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	items := make([]CartItemData, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = CartItemData{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
		}
	}

	data := CartUpdatedData{
		UserID:      cart.UserID,
		Items:       items,
		ItemCount:   cart.ItemCount(),
		TotalAmount: cart.TotalAmount(),
		Currency:    cart.Currency,
	}

	event, err := pkgkafka.NewEvent(TopicCartUpdated, cart.UserID, AggregateTypeCart, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, event); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("user_id", cart.UserID),
		slog.Int("item_count", cart.ItemCount()),
	)

	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, userID string) error {
	data := CartClearedData{UserID: userID}

	event, err := pkgkafka.NewEvent(TopicCartCleared, userID, AggregateTypeCart, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create cart.cleared event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartCleared, event); err != nil {
		return fmt.Errorf("publish cart.cleared event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("user_id", userID),
	)

	return nil
}

// PublishOrderCreated publishes an order.created event.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	data := OrderCreatedData{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		ItemCount:   len(order.Items),
	}

	event, err := pkgkafka.NewEvent(TopicOrderCreated, order.ID, AggregateTypeOrder, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create order.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderCreated, event); err != nil {
		return fmt.Errorf("publish order.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.created event",
		slog.String("order_id", order.ID),
	)

	return nil
}

// PublishOrderStatusChanged publishes an order.status_changed event.
func (p *Producer) PublishOrderStatusChanged(ctx context.Context, order *domain.Order, fromStatus, reason string) error {
	data := OrderStatusChangedData{
		OrderID:    order.ID,
		UserID:     order.UserID,
		FromStatus: fromStatus,
		ToStatus:   order.Status,
		Reason:     reason,
	}

	event, err := pkgkafka.NewEvent(TopicOrderStatusChanged, order.ID, AggregateTypeOrder, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create order.status_changed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderStatusChanged, event); err != nil {
		return fmt.Errorf("publish order.status_changed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.status_changed event",
		slog.String("order_id", order.ID),
		slog.String("from", fromStatus),
		slog.String("to", order.Status),
	)

	return nil
}

// PublishPaymentSessionCreated publishes a payment.session_created event.
func (p *Producer) PublishPaymentSessionCreated(ctx context.Context, session *domain.PaymentSession) error {
	return p.publishSessionEvent(ctx, TopicPaymentSessionCreated, session)
}

// PublishPaymentSucceeded publishes a payment.succeeded event.
func (p *Producer) PublishPaymentSucceeded(ctx context.Context, session *domain.PaymentSession) error {
	return p.publishSessionEvent(ctx, TopicPaymentSucceeded, session)
}

// PublishPaymentExpired publishes a payment.expired event.
func (p *Producer) PublishPaymentExpired(ctx context.Context, session *domain.PaymentSession) error {
	return p.publishSessionEvent(ctx, TopicPaymentExpired, session)
}

func (p *Producer) publishSessionEvent(ctx context.Context, topic string, session *domain.PaymentSession) error {
	data := PaymentSessionData{
		SessionID:   session.ID,
		OrderID:     session.OrderID,
		UserID:      session.UserID,
		ExternalRef: session.ExternalRef,
		Amount:      session.Amount,
		Currency:    session.Currency,
	}

	event, err := pkgkafka.NewEvent(topic, session.ID, AggregateTypeSession, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published payment session event",
		slog.String("topic", topic),
		slog.String("session_id", session.ID),
		slog.String("order_id", session.OrderID),
	)

	return nil
}
