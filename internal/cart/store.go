// Package cart reads the shopping cart the storefront keeps in Redis.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ridloal/order-payment-service/internal/order/domain"
)

type Store interface {
	ReadCart(ctx context.Context, customerID string) (domain.CartSnapshot, error)
	Clear(ctx context.Context, customerID string) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type storedCart struct {
	Items []domain.CartItem `json:"items"`
}

// ReadCart returns domain.ErrEmptyCart when no cart is stored or it has no
// purchasable lines.
func (s *RedisStore) ReadCart(ctx context.Context, customerID string) (domain.CartSnapshot, error) {
	data, err := s.client.Get(ctx, cartKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CartSnapshot{}, domain.ErrEmptyCart
	}
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("redis get cart failed: %w", err)
	}

	var c storedCart
	if err := json.Unmarshal(data, &c); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	items := make([]domain.CartItem, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Quantity <= 0 {
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return domain.CartSnapshot{}, domain.ErrEmptyCart
	}
	return domain.CartSnapshot{CustomerID: customerID, Items: items}, nil
}

func (s *RedisStore) Clear(ctx context.Context, customerID string) error {
	if err := s.client.Del(ctx, cartKey(customerID)).Err(); err != nil {
		return fmt.Errorf("redis delete cart failed: %w", err)
	}
	return nil
}

func cartKey(customerID string) string {
	return fmt.Sprintf("cart:%s", customerID)
}
