package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/model"
)

func newOrder(id, user, key string, date time.Time) *model.Order {
	return &model.Order{
		OrderID:        id,
		UserID:         user,
		IdempotencyKey: key,
		Items:          []model.CartLine{{ProductID: "p1", UnitPrice: decimal.NewFromInt(100), Quantity: 2}},
		PaymentMethod:  model.PaymentMethodCard,
		PaymentDetails: model.CardPayment{GatewayPayment: model.GatewayPayment{GatewayOrderID: "order_1"}},
		Status:         model.OrderStatusPending,
		OrderDate:      date,
	}
}

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-1", "u1", "k1", now)))

	assert.ErrorIs(t, repo.CreateOrder(ctx, newOrder("ORD-1", "u1", "k2", now)), ErrDuplicateOrderID)
	assert.ErrorIs(t, repo.CreateOrder(ctx, newOrder("ORD-2", "u1", "k1", now)), ErrDuplicateIdempotencyKey)
	assert.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-3", "u2", "k1", now)))

	o, err := repo.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", o.UserID)

	o, err = repo.GetOrderByIdempotencyKey(ctx, "u2", "k1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-3", o.OrderID)

	_, err = repo.GetOrder(ctx, "ORD-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-1", "u1", "k1", time.Now())))

	o, err := repo.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	o.Items[0].Quantity = 99
	o.Status = model.OrderStatusDelivered

	again, err := repo.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Items[0].Quantity)
	assert.Equal(t, model.OrderStatusPending, again.Status)
}

func TestMemoryRepository_OrdersByUserNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-1", "u1", "k1", base)))
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-2", "u1", "k2", base.Add(time.Hour))))
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-3", "u2", "k3", base)))

	orders, err := repo.GetOrdersByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "ORD-2", orders[0].OrderID)
	assert.Equal(t, "ORD-1", orders[1].OrderID)
}

func TestMemoryRepository_UpdateStatusCompareAndSet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-1", "u1", "k1", time.Now())))

	require.NoError(t, repo.UpdateStatus(ctx, "ORD-1", model.OrderStatusPending, model.OrderStatusProcessing))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "ORD-1", model.OrderStatusPending, model.OrderStatusCancelled), ErrStatusConflict)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "ORD-404", model.OrderStatusPending, model.OrderStatusProcessing), ErrNotFound)
}

func TestMemoryRepository_UpdateGatewayPayment(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-1", "u1", "k1", time.Now())))

	paid := model.GatewayPayment{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1", Signature: "sig"}
	require.NoError(t, repo.UpdateGatewayPayment(ctx, "ORD-1", paid))
	require.NoError(t, repo.UpdateGatewayPayment(ctx, "ORD-1", paid))

	other := paid
	other.GatewayPaymentID = "pay_2"
	assert.ErrorIs(t, repo.UpdateGatewayPayment(ctx, "ORD-1", other), ErrPaymentConflict)

	o, err := repo.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	g, ok := model.GatewayDetails(o.PaymentDetails)
	require.True(t, ok)
	assert.Equal(t, "pay_1", g.GatewayPaymentID)
}

func TestMemoryRepository_UpdateGatewayPaymentKeepsHistory(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateOrder(ctx, newOrder("ORD-1", "u1", "k1", time.Now())))

	retried := model.GatewayPayment{GatewayOrderID: "order_2", PreviousGatewayOrderIDs: []string{"order_1"}}
	require.NoError(t, repo.UpdateGatewayPayment(ctx, "ORD-1", retried))

	// запись, собранная до повторной попытки, не должна терять order_2
	late := model.GatewayPayment{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1"}
	require.NoError(t, repo.UpdateGatewayPayment(ctx, "ORD-1", late))

	o, err := repo.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	g, _ := model.GatewayDetails(o.PaymentDetails)
	assert.Equal(t, "order_1", g.GatewayOrderID)
	assert.Equal(t, "pay_1", g.GatewayPaymentID)
	assert.True(t, g.Issued("order_2"))
}
