// Package events публикует события заказов и принимает статусы доставки через RabbitMQ.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
)

// EventType задаёт тип события заказа. Используется как routing key.
type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventPaymentVerified    EventType = "payment.verified"
	EventOrderStatusChanged EventType = "order.status_changed"
)

// OrderEvent — сообщение о событии заказа.
type OrderEvent struct {
	ID            string              `json:"id"`
	Type          EventType           `json:"type"`
	OrderID       string              `json:"orderId"`
	UserID        string              `json:"userId"`
	Status        model.OrderStatus   `json:"status"`
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
	GrandTotal    decimal.Decimal     `json:"grandTotal"`
	PaymentID     string              `json:"paymentId,omitempty"`
	OccurredAt    time.Time           `json:"occurredAt"`
}

// NewOrderEvent собирает событие по текущему состоянию заказа.
func NewOrderEvent(t EventType, o *model.Order, at time.Time) OrderEvent {
	e := OrderEvent{
		ID:            uuid.NewString(),
		Type:          t,
		OrderID:       o.OrderID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		GrandTotal:    o.Pricing.GrandTotal,
		OccurredAt:    at.UTC(),
	}
	if g, ok := model.GatewayDetails(o.PaymentDetails); ok {
		e.PaymentID = g.GatewayPaymentID
	}
	return e
}

// Publisher отправляет события заказов.
type Publisher interface {
	Publish(ctx context.Context, e OrderEvent) error
}

// NopPublisher отбрасывает события. Используется, когда брокер не настроен.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }
