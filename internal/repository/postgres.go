// Package repository содержит хранилища заказов: PostgreSQL и in-memory.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound возвращается, если заказ не найден.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateOrderID возвращается, если заказ с таким номером уже есть.
	ErrDuplicateOrderID = errors.New("order id already exists")
	// ErrDuplicateIdempotencyKey возвращается, если у пользователя уже есть заказ с таким ключом идемпотентности.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrStatusConflict возвращается, если статус заказа изменился с момента чтения.
	ErrStatusConflict = errors.New("order status changed concurrently")
	// ErrPaymentConflict возвращается, если заказ уже оплачен другим платежом.
	ErrPaymentConflict = errors.New("order already paid with another payment")
)

const (
	constraintOrderPK        = "orders_pkey"
	constraintIdempotencyKey = "orders_user_idempotency_key"
)

const selectOrderColumns = `order_id, user_id, idempotency_key, items, shipping_info, payment_method,
	payment_details, subtotal::text, delivery_fee::text, handling_fee::text, grand_total::text,
	status, order_date, updated_at`

// PostgresRepository предоставляет доступ к заказам в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет соединение с БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	shipping, err := json.Marshal(o.ShippingInfo)
	if err != nil {
		return fmt.Errorf("encode shipping: %w", err)
	}
	payment, err := model.EncodePaymentDetails(o.PaymentDetails)
	if err != nil {
		return fmt.Errorf("encode payment details: %w", err)
	}

	err = r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO orders (order_id, user_id, idempotency_key, items, shipping_info, payment_method,
				payment_details, subtotal, delivery_fee, handling_fee, grand_total, status, order_date, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12, $13, $14)`,
			o.OrderID, o.UserID, o.IdempotencyKey, items, shipping, string(o.PaymentMethod),
			payment, o.Pricing.Subtotal.String(), o.Pricing.DeliveryFee.String(),
			o.Pricing.HandlingFee.String(), o.Pricing.GrandTotal.String(),
			string(o.Status), o.OrderDate, o.UpdatedAt,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case constraintIdempotencyKey:
				return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, o.IdempotencyKey)
			case constraintOrderPK:
				return fmt.Errorf("%w: %s", ErrDuplicateOrderID, o.OrderID)
			}
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetOrder возвращает заказ по номеру.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var o *model.Order
	err := r.withRetry(ctx, func() error {
		var err error
		o, err = scanOrder(r.pool.QueryRow(ctx,
			`SELECT `+selectOrderColumns+` FROM orders WHERE order_id = $1`,
			orderID,
		))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrderByIdempotencyKey возвращает заказ пользователя по ключу идемпотентности.
func (r *PostgresRepository) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+selectOrderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order by idempotency key: %w", err)
	}
	return o, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectOrderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY order_date DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// UpdateGatewayPayment записывает данные шлюза. Запись проходит, только если заказ ещё не оплачен
// либо оплачен тем же платежом, иначе возвращается ErrPaymentConflict.
// История удалённых заказов объединяется с сохранённой под блокировкой строки.
func (r *PostgresRepository) UpdateGatewayPayment(ctx context.Context, orderID string, g model.GatewayPayment) error {
	return r.withRetry(ctx, func() error {
		return r.updateGatewayPayment(ctx, orderID, g)
	})
}

func (r *PostgresRepository) updateGatewayPayment(ctx context.Context, orderID string, g model.GatewayPayment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		method  string
		current []byte
	)
	err = tx.QueryRow(ctx,
		`SELECT payment_method, payment_details FROM orders WHERE order_id = $1 FOR UPDATE`,
		orderID,
	).Scan(&method, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock order: %w", err)
	}

	stored, err := model.DecodePaymentDetails(model.PaymentMethod(method), current)
	if err != nil {
		return err
	}
	cur, ok := model.GatewayDetails(stored)
	if !ok {
		return fmt.Errorf("order %s is not paid through a gateway", orderID)
	}
	if cur.Paid() && cur.GatewayPaymentID != g.GatewayPaymentID {
		return ErrPaymentConflict
	}

	payload, err := json.Marshal(model.MergeGatewayHistory(cur, g))
	if err != nil {
		return fmt.Errorf("encode payment details: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE orders SET payment_details = $2, updated_at = now() WHERE order_id = $1`,
		orderID, payload,
	); err != nil {
		return fmt.Errorf("update payment details: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpdateStatus меняет статус заказа с from на to. Если текущий статус уже не from, возвращается ErrStatusConflict.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, orderID string, from, to model.OrderStatus) error {
	var affected int64
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders SET status = $3, updated_at = now() WHERE order_id = $1 AND status = $2`,
			orderID, string(from), string(to),
		)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if affected == 0 {
		return r.missingOr(ctx, orderID, ErrStatusConflict)
	}
	return nil
}

func (r *PostgresRepository) missingOr(ctx context.Context, orderID string, conflict error) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return conflict
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                                        model.Order
		items, shipping, payment                 []byte
		method, status                           string
		subtotal, delivery, handling, grandTotal string
	)

	err := row.Scan(&o.OrderID, &o.UserID, &o.IdempotencyKey, &items, &shipping, &method,
		&payment, &subtotal, &delivery, &handling, &grandTotal, &status, &o.OrderDate, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingInfo); err != nil {
		return nil, fmt.Errorf("decode shipping: %w", err)
	}

	o.PaymentMethod = model.PaymentMethod(method)
	o.PaymentDetails, err = model.DecodePaymentDetails(o.PaymentMethod, payment)
	if err != nil {
		return nil, err
	}

	o.Pricing, err = parsePricing(subtotal, delivery, handling, grandTotal)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	return &o, nil
}

func parsePricing(subtotal, delivery, handling, grandTotal string) (model.PricingBreakdown, error) {
	var (
		p   model.PricingBreakdown
		err error
	)
	if p.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return p, fmt.Errorf("parse subtotal: %w", err)
	}
	if p.DeliveryFee, err = decimal.NewFromString(delivery); err != nil {
		return p, fmt.Errorf("parse delivery fee: %w", err)
	}
	if p.HandlingFee, err = decimal.NewFromString(handling); err != nil {
		return p, fmt.Errorf("parse handling fee: %w", err)
	}
	if p.GrandTotal, err = decimal.NewFromString(grandTotal); err != nil {
		return p, fmt.Errorf("parse grand total: %w", err)
	}
	return p, nil
}
