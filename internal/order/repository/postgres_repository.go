package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/ridloal/order-payment-service/internal/order/domain"
	"github.com/ridloal/order-payment-service/internal/platform/logger"
	"go.uber.org/zap"
)

var ErrOrderConflict = errors.New("order with this id already exists")

const uniqueViolation = "23505"

// StatusChange carries the optimistic-lock expectations of a status update.
type StatusChange struct {
	From            domain.OrderStatus
	ExpectedVersion int64
	Reason          string
}

type OrderRepository interface {
	CreateOrderWithItems(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	// UpdateOrderStatus persists the status fields of an already transitioned order,
	// but only if the stored version still equals change.ExpectedVersion.
	UpdateOrderStatus(ctx context.Context, order *domain.Order, change StatusChange) error
	GetAwaitingPaymentOrdersOlderThan(ctx context.Context, duration time.Duration) ([]domain.Order, error)
}

type postgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) OrderRepository {
	return &postgresOrderRepository{db: db}
}

const orderColumns = `id, customer_id, full_name, email, phone, street, city, district, ward,
       payment_method, shipping_fee, total_amount, status, version,
       provider_transaction_id, cancel_reason, created_at, last_transition_at`

// CreateOrderWithItems menyimpan order dan item-itemnya dalam satu transaksi.
func (r *postgresOrderRepository) CreateOrderWithItems(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("CreateOrderWithItems: failed to begin tx", err)
		return err
	}
	defer tx.Rollback()

	orderQuery := `INSERT INTO orders (` + orderColumns + `)
                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	c := order.Customer
	_, err = tx.ExecContext(ctx, orderQuery,
		order.ID, order.CustomerID, c.FullName, c.Email, c.Phone, c.Street, c.City, c.District, c.Ward,
		order.PaymentMethod, order.ShippingFee, order.TotalAmount, order.Status, order.Version,
		nullString(order.ProviderTransactionID), nullString(order.CancelReason), order.CreatedAt, order.LastTransitionAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrOrderConflict
		}
		logger.Error("CreateOrderWithItems: failed to insert order", err, zap.String("order_id", order.ID))
		return err
	}

	itemStmt, err := tx.PrepareContext(ctx, `INSERT INTO order_items (order_id, position, product_id, product_name, unit_price, quantity)
                                            VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		logger.Error("CreateOrderWithItems: failed to prepare item statement", err)
		return err
	}
	defer itemStmt.Close()

	for i, it := range order.Items {
		if _, err = itemStmt.ExecContext(ctx, order.ID, i, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity); err != nil {
			logger.Error("CreateOrderWithItems: failed to insert order item", err, zap.String("product_id", it.ProductID))
			return err
		}
	}

	return tx.Commit()
}

func (r *postgresOrderRepository) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		logger.Error("GetOrderByID: query failed", err, zap.String("order_id", orderID))
		return nil, err
	}

	items, err := r.getOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// ListOrders returns order headers only; line items are loaded by GetOrderByID.
func (r *postgresOrderRepository) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return r.queryOrders(ctx, "ListOrders", query, args...)
}

func (r *postgresOrderRepository) UpdateOrderStatus(ctx context.Context, order *domain.Order, change StatusChange) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("UpdateOrderStatus: failed to begin tx", err)
		return err
	}
	defer tx.Rollback()

	query := `UPDATE orders
              SET status = $1, version = version + 1, last_transition_at = $2,
                  provider_transaction_id = $3, cancel_reason = $4
              WHERE id = $5 AND version = $6 AND status = $7`
	res, err := tx.ExecContext(ctx, query,
		order.Status, order.LastTransitionAt, nullString(order.ProviderTransactionID), nullString(order.CancelReason),
		order.ID, change.ExpectedVersion, change.From)
	if err != nil {
		logger.Error("UpdateOrderStatus: exec failed", err, zap.String("order_id", order.ID), zap.String("new_status", order.Status.String()))
		return err
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrConcurrentModification
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO order_status_history (order_id, from_status, to_status, reason, provider_txn_id, created_at)
                                  VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, change.From, order.Status, change.Reason, nullString(order.ProviderTransactionID), order.LastTransitionAt)
	if err != nil {
		logger.Error("UpdateOrderStatus: failed to record history", err, zap.String("order_id", order.ID))
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	order.Version = change.ExpectedVersion + 1
	return nil
}

func (r *postgresOrderRepository) GetAwaitingPaymentOrdersOlderThan(ctx context.Context, duration time.Duration) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + `
              FROM orders
              WHERE status = $1 AND created_at < $2
              ORDER BY created_at ASC`

	thresholdTime := time.Now().Add(-duration)
	return r.queryOrders(ctx, "GetAwaitingPaymentOrdersOlderThan", query, domain.StatusAwaitingPayment, thresholdTime)
}

func (r *postgresOrderRepository) getOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	query := `SELECT product_id, product_name, unit_price, quantity
              FROM order_items WHERE order_id = $1 ORDER BY position ASC`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		logger.Error("getOrderItems: query failed", err, zap.String("order_id", orderID))
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity); err != nil {
			logger.Error("getOrderItems: scan failed", err)
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *postgresOrderRepository) queryOrders(ctx context.Context, op, query string, args ...interface{}) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error(op+": query failed", err)
		return nil, err
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			logger.Error(op+": scan failed", err)
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		providerTx sql.NullString
		reason     sql.NullString
	)
	c := &o.Customer
	err := row.Scan(&o.ID, &o.CustomerID, &c.FullName, &c.Email, &c.Phone, &c.Street, &c.City, &c.District, &c.Ward,
		&o.PaymentMethod, &o.ShippingFee, &o.TotalAmount, &o.Status, &o.Version,
		&providerTx, &reason, &o.CreatedAt, &o.LastTransitionAt)
	if err != nil {
		return nil, err
	}
	if providerTx.Valid {
		o.ProviderTransactionID = &providerTx.String
	}
	if reason.Valid {
		o.CancelReason = &reason.String
	}
	return &o, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
