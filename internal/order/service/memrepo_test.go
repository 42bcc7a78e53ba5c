package service

import (
	"context"
	"sync"
	"time"

	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/order/repository"
)

// memRepo is an in-memory OrderRepository with the same compare-and-set
// semantics as the Postgres one, for exercising real races.
type memRepo struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	history []repository.StatusChange
}

func newMemRepo(orders ...*domain.Order) *memRepo {
	r := &memRepo{orders: map[string]*domain.Order{}}
	for _, o := range orders {
		r.orders[o.ID] = o.Clone()
	}
	return r
}

func (r *memRepo) CreateOrderWithItems(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return repository.ErrOrderConflict
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *memRepo) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *memRepo) ListOrders(context.Context, domain.OrderFilter) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o.Clone())
	}
	return out, nil
}

func (r *memRepo) UpdateOrderStatus(_ context.Context, o *domain.Order, change repository.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if cur.Version != change.ExpectedVersion || cur.Status != change.From {
		return domain.ErrConcurrentModification
	}
	o.Version = change.ExpectedVersion + 1
	r.orders[o.ID] = o.Clone()
	r.history = append(r.history, change)
	return nil
}

func (r *memRepo) GetAwaitingPaymentOrdersOlderThan(_ context.Context, d time.Duration) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.StatusAwaitingPayment && o.CreatedAt.Before(time.Now().Add(-d)) {
			out = append(out, *o.Clone())
		}
	}
	return out, nil
}
