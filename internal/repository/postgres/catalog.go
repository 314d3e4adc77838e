package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/applianceshop/core/internal/database"
	"github.com/applianceshop/core/internal/domain"
	apperrors "github.com/applianceshop/core/internal/errors"
)

// CatalogRepository implements repository.CatalogRepository using PostgreSQL.
type CatalogRepository struct {
	pool database.DBTX
}

// NewCatalogRepository creates a new PostgreSQL-backed catalog repository.
func NewCatalogRepository(pool database.DBTX) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID retrieves a product by ID.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	query := `
		SELECT id, name, description, price, stock, category, image_url, created_at, updated_at
		FROM products
		WHERE id = $1`

	var p domain.Product
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Stock,
		&p.Category,
		&p.ImageURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}

	return &p, nil
}

// DecrementStock conditionally subtracts qty from the product's stock. The
// stock >= qty predicate keeps stock from going negative under concurrency.
func (r *CatalogRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	query := `
		UPDATE products
		SET stock = stock - $1, updated_at = $2
		WHERE id = $3 AND stock >= $1`

	ct, err := r.pool.Exec(ctx, query, qty, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.ConflictCode("INSUFFICIENT_STOCK",
			fmt.Sprintf("insufficient stock for product %s", id))
	}

	return nil
}
