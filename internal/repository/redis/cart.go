package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/applianceshop/core/internal/domain"
	apperrors "github.com/applianceshop/core/internal/errors"
)

const keyPrefix = "cart:"

// CartRepository implements repository.CartRepository using Redis. Writes go
// through WATCH-based optimistic locking keyed on the cart's version counter,
// so concurrent mutations of the same cart never silently overwrite each other.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository creates a new Redis-backed cart repository.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cart by user ID from Redis.
func (r *CartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	key := keyPrefix + userID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperrors.NotFound("cart", userID)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}

	return &cart, nil
}

// SaveIfVersion persists the cart only when the stored version still equals
// expectedVersion. An expectedVersion of 0 means the key must be absent. The
// write bumps the version and resets the TTL. Returns false without error when
// a concurrent writer won; callers reload and retry.
func (r *CartRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error) {
	key := keyPrefix + cart.UserID
	saved := false

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			if expectedVersion != 0 {
				return nil
			}
		case err != nil:
			return fmt.Errorf("redis get cart: %w", err)
		default:
			var current domain.Cart
			if err := json.Unmarshal(data, &current); err != nil {
				return fmt.Errorf("unmarshal cart: %w", err)
			}
			if current.Version != expectedVersion {
				return nil
			}
		}

		cart.Version = expectedVersion + 1
		payload, err := json.Marshal(cart)
		if err != nil {
			return fmt.Errorf("marshal cart: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		saved = true
		return nil
	}

	err := r.client.Watch(ctx, txn, key)
	if err == redis.TxFailedErr {
		// The watched key changed between read and write.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis save cart: %w", err)
	}

	return saved, nil
}

// Delete removes a cart from Redis by user ID. Missing keys are a no-op.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	key := keyPrefix + userID

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}

	return nil
}
