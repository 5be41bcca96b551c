package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
)

// ErrMalformedMessage возвращается для сообщений, которые нельзя разобрать.
var ErrMalformedMessage = errors.New("malformed fulfillment message")

// StatusUpdate содержит новый статус заказа от службы доставки.
type StatusUpdate struct {
	OrderID string            `json:"orderId"`
	Status  model.OrderStatus `json:"status"`
}

// StatusApplier применяет смену статуса через машину состояний заказа.
type StatusApplier interface {
	TransitionStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, error)
}

// Consumer обрабатывает сообщения о смене статуса.
type Consumer struct {
	applier StatusApplier
	logger  *zap.Logger
}

// NewConsumer создаёт обработчик сообщений о смене статуса.
func NewConsumer(applier StatusApplier, logger *zap.Logger) *Consumer {
	return &Consumer{applier: applier, logger: logger}
}

// DecodeStatusUpdate разбирает тело сообщения.
func DecodeStatusUpdate(body []byte) (StatusUpdate, error) {
	var u StatusUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return StatusUpdate{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if u.OrderID == "" {
		return StatusUpdate{}, fmt.Errorf("%w: missing orderId", ErrMalformedMessage)
	}
	if !u.Status.Valid() {
		return StatusUpdate{}, fmt.Errorf("%w: unknown status %q", ErrMalformedMessage, u.Status)
	}
	return u, nil
}

// Handle применяет одно сообщение.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	u, err := DecodeStatusUpdate(body)
	if err != nil {
		c.logger.Warn("invalid fulfillment message", zap.Error(err))
		return err
	}

	o, err := c.applier.TransitionStatus(ctx, u.OrderID, u.Status)
	if err != nil {
		c.logger.Warn("fulfillment status rejected",
			zap.String("order_id", u.OrderID),
			zap.String("status", string(u.Status)),
			zap.String("kind", apperr.Kind(err)),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("fulfillment status applied",
		zap.String("order_id", o.OrderID),
		zap.String("status", string(o.Status)),
	)
	return nil
}

// Action определяет, что сделать с доставленным сообщением.
type Action int

const (
	ActionAck Action = iota
	ActionRequeue
	ActionDeadLetter
)

// Decide выбирает действие по результату обработки.
// Сбои хранилища повторяются один раз, остальные ошибки уходят в очередь недоставленных.
func Decide(err error, redelivered bool) Action {
	if err == nil {
		return ActionAck
	}
	if errors.Is(err, ErrMalformedMessage) {
		return ActionDeadLetter
	}

	switch apperr.Kind(err) {
	case "internal", "persistence", "timeout":
		if !redelivered {
			return ActionRequeue
		}
	}
	return ActionDeadLetter
}
