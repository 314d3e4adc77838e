package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/applianceshop/core/internal/database"
	"github.com/applianceshop/core/internal/domain"
	apperrors "github.com/applianceshop/core/internal/errors"
	"github.com/applianceshop/core/internal/repository"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a new order and its items atomically within a transaction.
// The partial unique index on (user_id, cart_hash) for open orders turns a
// duplicate submission into ErrAlreadyExists.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orderQuery := `
		INSERT INTO orders (id, user_id, status, payment_status, total_amount, currency, cart_hash, card_last4, canceled_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, orderQuery,
		o.ID,
		o.UserID,
		o.Status,
		o.PaymentStatus,
		o.TotalAmount,
		o.Currency,
		o.CartHash,
		o.CardLast4,
		o.CanceledReason,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.ErrAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, name, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Name,
			item.UnitPrice,
			item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves an order by its ID, eagerly loading its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, user_id, status, payment_status, total_amount, currency, cart_hash, card_last4, canceled_reason, created_at, updated_at
		FROM orders
		WHERE id = $1`

	var o domain.Order
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.PaymentStatus,
		&o.TotalAmount,
		&o.Currency,
		&o.CartHash,
		&o.CardLast4,
		&o.CanceledReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	items, err := r.loadOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

// FindOpenByCartHash returns the pending unpaid order for the given user and
// cart content hash, or ErrNotFound when no open duplicate exists.
func (r *OrderRepository) FindOpenByCartHash(ctx context.Context, userID, cartHash string) (*domain.Order, error) {
	query := `
		SELECT id, user_id, status, payment_status, total_amount, currency, cart_hash, card_last4, canceled_reason, created_at, updated_at
		FROM orders
		WHERE user_id = $1 AND cart_hash = $2 AND status = $3 AND payment_status = $4`

	var o domain.Order
	err := r.pool.QueryRow(ctx, query, userID, cartHash, domain.OrderStatusPending, domain.PaymentStatusUnpaid).Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.PaymentStatus,
		&o.TotalAmount,
		&o.Currency,
		&o.CartHash,
		&o.CardLast4,
		&o.CanceledReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan open order: %w", err)
	}

	items, err := r.loadOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

// List returns orders matching the given filter with the total count.
func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   int = 1
	)

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, *filter.UserID)
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Use count(*) OVER() for total count in a single query.
	query := fmt.Sprintf(`
		SELECT id, user_id, status, payment_status, total_amount, currency, cart_hash, card_last4, canceled_reason, created_at, updated_at,
			   count(*) OVER() AS total_count
		FROM orders
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var totalCount int
	orders := make([]domain.Order, 0)

	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.Status,
			&o.PaymentStatus,
			&o.TotalAmount,
			&o.Currency,
			&o.CartHash,
			&o.CardLast4,
			&o.CanceledReason,
			&o.CreatedAt,
			&o.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	// Batch-load items for all orders in a single query to avoid N+1.
	if len(orders) > 0 {
		orderIDs := make([]string, len(orders))
		for i := range orders {
			orderIDs[i] = orders[i].ID
		}

		itemsQuery := `
			SELECT id, order_id, product_id, name, unit_price, quantity
			FROM order_items
			WHERE order_id = ANY($1)
			ORDER BY id`

		itemRows, err := r.pool.Query(ctx, itemsQuery, orderIDs)
		if err != nil {
			return nil, 0, fmt.Errorf("batch load order items: %w", err)
		}
		defer itemRows.Close()

		itemsByOrderID := make(map[string][]domain.OrderItem, len(orders))
		for itemRows.Next() {
			var item domain.OrderItem
			if err := itemRows.Scan(
				&item.ID,
				&item.OrderID,
				&item.ProductID,
				&item.Name,
				&item.UnitPrice,
				&item.Quantity,
			); err != nil {
				return nil, 0, fmt.Errorf("scan order item: %w", err)
			}
			itemsByOrderID[item.OrderID] = append(itemsByOrderID[item.OrderID], item)
		}
		if err := itemRows.Err(); err != nil {
			return nil, 0, fmt.Errorf("iterate batch order item rows: %w", err)
		}

		for i := range orders {
			if items, ok := itemsByOrderID[orders[i].ID]; ok {
				orders[i].Items = items
			} else {
				orders[i].Items = []domain.OrderItem{}
			}
		}
	}

	return orders, totalCount, nil
}

// UpdateStatus transitions an order from one status to another. The WHERE
// clause is the guard: it only matches when the order is still in fromStatus,
// and statuses that require a settled payment additionally match on
// payment_status = 'paid'. Zero rows means a concurrent writer won or the
// guard failed, reported as ErrConflict.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, fromStatus, toStatus, reason string) error {
	query := `
		UPDATE orders
		SET status = $1, canceled_reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5`
	args := []any{toStatus, reason, time.Now().UTC(), id, fromStatus}

	if domain.RequiresPayment(toStatus) {
		query += ` AND payment_status = $6`
		args = append(args, domain.PaymentStatusPaid)
	}

	ct, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.ConflictCode("INVALID_TRANSITION",
			fmt.Sprintf("order cannot move from %s to %s", fromStatus, toStatus))
	}

	return nil
}

// ConfirmPayment settles an unpaid order in a single transaction: the order
// row is locked, every line's stock is conditionally decremented, and the
// order and session rows are updated together. Any failure rolls everything
// back, so stock is never decremented for an order that did not settle.
func (r *OrderRepository) ConfirmPayment(ctx context.Context, orderID, sessionID, cardLast4 string) (*domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `
		SELECT id, user_id, status, payment_status, total_amount, currency, cart_hash, card_last4, canceled_reason, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE`

	var o domain.Order
	err = tx.QueryRow(ctx, lockQuery, orderID).Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.PaymentStatus,
		&o.TotalAmount,
		&o.Currency,
		&o.CartHash,
		&o.CardLast4,
		&o.CanceledReason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if o.PaymentStatus != domain.PaymentStatusUnpaid {
		return nil, apperrors.ConflictCode("ALREADY_PAID", "payment already resolved for this order")
	}
	if o.Status == domain.OrderStatusCancelled {
		return nil, apperrors.Conflict("order is cancelled")
	}

	itemsQuery := `
		SELECT id, order_id, product_id, name, unit_price, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := tx.Query(ctx, itemsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.UnitPrice,
			&item.Quantity,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	// Conditional decrement: the stock >= quantity predicate makes the update
	// a no-op when another paid order drained the stock first.
	stockQuery := `
		UPDATE products
		SET stock = stock - $1, updated_at = $2
		WHERE id = $3 AND stock >= $1`

	now := time.Now().UTC()
	for _, item := range items {
		ct, err := tx.Exec(ctx, stockQuery, item.Quantity, now, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil, apperrors.ConflictCode("INSUFFICIENT_STOCK",
				fmt.Sprintf("insufficient stock for product %s", item.ProductID))
		}
	}

	orderQuery := `
		UPDATE orders
		SET payment_status = $1, status = $2, card_last4 = $3, updated_at = $4
		WHERE id = $5`

	if _, err := tx.Exec(ctx, orderQuery, domain.PaymentStatusPaid, domain.OrderStatusProcessing, cardLast4, now, orderID); err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	sessionQuery := `
		UPDATE payment_sessions
		SET status = $1, updated_at = $2
		WHERE id = $3`

	if _, err := tx.Exec(ctx, sessionQuery, domain.SessionStatusCompleted, now, sessionID); err != nil {
		return nil, fmt.Errorf("complete payment session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	o.PaymentStatus = domain.PaymentStatusPaid
	o.Status = domain.OrderStatusProcessing
	o.CardLast4 = cardLast4
	o.UpdatedAt = now
	o.Items = items

	return &o, nil
}

// ExpirePayment marks an unpaid order's payment expired and closes the session
// in one transaction. Orders that already settled are left untouched.
func (r *OrderRepository) ExpirePayment(ctx context.Context, orderID, sessionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	orderQuery := `
		UPDATE orders
		SET payment_status = $1, updated_at = $2
		WHERE id = $3 AND payment_status = $4`

	if _, err := tx.Exec(ctx, orderQuery, domain.PaymentStatusExpired, now, orderID, domain.PaymentStatusUnpaid); err != nil {
		return fmt.Errorf("expire order payment: %w", err)
	}

	sessionQuery := `
		UPDATE payment_sessions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`

	if _, err := tx.Exec(ctx, sessionQuery, domain.SessionStatusExpired, now, sessionID, domain.SessionStatusPending); err != nil {
		return fmt.Errorf("expire payment session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// loadOrderItems retrieves all items belonging to a given order.
func (r *OrderRepository) loadOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, name, unit_price, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.UnitPrice,
			&item.Quantity,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order item rows: %w", err)
	}

	if items == nil {
		items = []domain.OrderItem{}
	}

	return items, nil
}
