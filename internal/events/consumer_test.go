package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
)

type stubApplier struct {
	calls []StatusUpdate
	err   error
}

func (s *stubApplier) TransitionStatus(_ context.Context, orderID string, to model.OrderStatus) (*model.Order, error) {
	s.calls = append(s.calls, StatusUpdate{OrderID: orderID, Status: to})
	if s.err != nil {
		return nil, s.err
	}
	return &model.Order{OrderID: orderID, Status: to}, nil
}

func TestDecodeStatusUpdate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "ok", body: `{"orderId":"ORD-1","status":"shipped"}`},
		{name: "not json", body: `ORD-1|shipped`, wantErr: true},
		{name: "missing order", body: `{"status":"shipped"}`, wantErr: true},
		{name: "unknown status", body: `{"orderId":"ORD-1","status":"lost"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := DecodeStatusUpdate([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ORD-1", u.OrderID)
			assert.Equal(t, model.OrderStatusShipped, u.Status)
		})
	}
}

func TestConsumerHandle(t *testing.T) {
	applier := &stubApplier{}
	c := NewConsumer(applier, zap.NewNop())

	require.NoError(t, c.Handle(context.Background(), []byte(`{"orderId":"ORD-1","status":"processing"}`)))
	require.Len(t, applier.calls, 1)
	assert.Equal(t, model.OrderStatusProcessing, applier.calls[0].Status)

	err := c.Handle(context.Background(), []byte(`garbage`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.Len(t, applier.calls, 1)

	applier.err = &apperr.InvalidTransitionError{From: "delivered", To: "cancelled"}
	err = c.Handle(context.Background(), []byte(`{"orderId":"ORD-1","status":"cancelled"}`))
	var te *apperr.InvalidTransitionError
	assert.ErrorAs(t, err, &te)
}

func TestDecide(t *testing.T) {
	assert.Equal(t, ActionAck, Decide(nil, false))
	assert.Equal(t, ActionDeadLetter, Decide(ErrMalformedMessage, false))
	assert.Equal(t, ActionDeadLetter, Decide(&apperr.InvalidTransitionError{From: "shipped", To: "pending"}, false))
	assert.Equal(t, ActionDeadLetter, Decide(apperr.ErrOrderNotFound, false))
	assert.Equal(t, ActionRequeue, Decide(errors.New("connection reset by peer"), false))
	assert.Equal(t, ActionDeadLetter, Decide(errors.New("connection reset by peer"), true))
}

func TestNewOrderEvent(t *testing.T) {
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	o := &model.Order{
		OrderID:        "ORD-1",
		UserID:         "u1",
		PaymentMethod:  model.PaymentMethodCard,
		PaymentDetails: model.CardPayment{GatewayPayment: model.GatewayPayment{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1"}},
		Pricing:        model.PricingBreakdown{GrandTotal: decimal.NewFromInt(205)},
		Status:         model.OrderStatusPending,
	}

	e := NewOrderEvent(EventPaymentVerified, o, at)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventPaymentVerified, e.Type)
	assert.Equal(t, "pay_1", e.PaymentID)
	assert.True(t, e.GrandTotal.Equal(decimal.NewFromInt(205)))
	assert.Equal(t, time.UTC, e.OccurredAt.Location())

	other := NewOrderEvent(EventPaymentVerified, o, at)
	assert.NotEqual(t, e.ID, other.ID)
}
