package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/platform/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (OrderRepository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("order_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Connect(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, "../../../migrations"))

	cleanup := func() {
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return NewPostgresOrderRepository(db), cleanup
}

func newTestOrder(t *testing.T, method domain.PaymentMethod) *domain.Order {
	cart := domain.CartSnapshot{Items: []domain.CartItem{
		{ProductID: "p1", ProductName: "Ao thun", Quantity: 2, UnitPrice: 150000},
		{ProductID: "p2", ProductName: "Quan jean", Quantity: 1, UnitPrice: 200000},
	}}
	customer := domain.CustomerInfo{
		FullName: "Nguyen Van A", Email: "a@example.com", Phone: "0912345678",
		Street: "12 Ly Thuong Kiet", City: "Ha Noi", District: "Hoan Kiem", Ward: "Hang Bai",
	}
	o, err := domain.NewOrder(uuid.NewString(), "user-1", customer, method, cart, domain.DefaultShippingFee, time.Now())
	require.NoError(t, err)
	return o
}

func TestCreateAndGetOrder(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder(t, domain.PaymentGatewayA)
	require.NoError(t, repo.CreateOrderWithItems(ctx, order))

	fetched, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount, fetched.TotalAmount)
	assert.Equal(t, domain.StatusAwaitingPayment, fetched.Status)
	assert.Equal(t, order.Customer, fetched.Customer)
	require.Len(t, fetched.Items, 2)
	assert.Equal(t, "Ao thun", fetched.Items[0].ProductName)
	assert.Nil(t, fetched.ProviderTransactionID)

	assert.ErrorIs(t, repo.CreateOrderWithItems(ctx, order), ErrOrderConflict)

	_, err = repo.GetOrderByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestUpdateOrderStatus_CompareAndSet(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder(t, domain.PaymentGatewayA)
	require.NoError(t, repo.CreateOrderWithItems(ctx, order))

	confirm, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	cancel, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)

	require.NoError(t, confirm.Apply(domain.Transition{To: domain.StatusConfirmed, PaymentTxnID: "txn-1"}))
	require.NoError(t, cancel.Apply(domain.Transition{To: domain.StatusCancelled, Reason: "customer"}))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, o := range []*domain.Order{confirm, cancel} {
		wg.Add(1)
		go func(i int, o *domain.Order) {
			defer wg.Done()
			errs[i] = repo.UpdateOrderStatus(ctx, o, StatusChange{From: domain.StatusAwaitingPayment, ExpectedVersion: 1})
		}(i, o)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, domain.ErrConcurrentModification)
		}
	}
	assert.Equal(t, 1, winners)

	stored, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, order.TotalAmount, stored.TotalAmount)
}

func TestListOrdersAndStaleQuery(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cod := newTestOrder(t, domain.PaymentCOD)
	gw := newTestOrder(t, domain.PaymentGatewayB)
	gw.CreatedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, repo.CreateOrderWithItems(ctx, cod))
	require.NoError(t, repo.CreateOrderWithItems(ctx, gw))

	pending, err := repo.ListOrders(ctx, domain.OrderFilter{Statuses: []domain.OrderStatus{domain.StatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cod.ID, pending[0].ID)

	stale, err := repo.GetAwaitingPaymentOrdersOlderThan(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, gw.ID, stale[0].ID)
}
