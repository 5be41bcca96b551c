package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/events"
	"github.com/mmeshcher/storefront/internal/lifecycle"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

// TransitionStatus переводит заказ в статус to по правилам машины состояний.
// Заказ с оплатой через шлюз нельзя передать в обработку до подтверждения оплаты.
func (s *Service) TransitionStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, error) {
	if !to.Valid() {
		return nil, apperr.NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return s.transition(ctx, o, to)
}

func (s *Service) transition(ctx context.Context, o *model.Order, to model.OrderStatus) (*model.Order, error) {
	if err := lifecycle.Validate(o.Status, to); err != nil {
		return nil, err
	}
	if to == model.OrderStatusProcessing && o.AwaitingPayment() {
		return nil, apperr.ErrPaymentRequired
	}

	from := o.Status
	if err := s.repo.UpdateStatus(ctx, o.OrderID, from, to); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperr.ErrOrderNotFound
		case errors.Is(err, repository.ErrStatusConflict):
			current := from
			if fresh, gerr := s.repo.GetOrder(ctx, o.OrderID); gerr == nil {
				current = fresh.Status
			}
			return nil, &apperr.InvalidTransitionError{From: string(current), To: string(to)}
		default:
			return nil, fmt.Errorf("update status: %w", err)
		}
	}

	o.Status = to
	o.UpdatedAt = s.now()

	s.logger.Info("order status changed",
		zap.String("order_id", o.OrderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.publish(ctx, events.EventOrderStatusChanged, o)

	return o, nil
}

// CancelOrder отменяет заказ пользователя. Отмена возможна только из pending и processing.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, o, model.OrderStatusCancelled)
}
