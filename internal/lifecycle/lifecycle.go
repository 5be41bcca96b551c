// Package lifecycle описывает допустимые переходы между статусами заказа.
package lifecycle

import (
	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
)

// Sequence — порядок статусов доставки от оформления до вручения.
var Sequence = []model.OrderStatus{
	model.OrderStatusPending,
	model.OrderStatusProcessing,
	model.OrderStatusShipped,
	model.OrderStatusOutForDelivery,
	model.OrderStatusDelivered,
}

// Товары в пути отменить нельзя.
var cancellable = map[model.OrderStatus]bool{
	model.OrderStatusPending:    true,
	model.OrderStatusProcessing: true,
}

// Index возвращает позицию статуса в Sequence или -1, если статуса там нет.
func Index(s model.OrderStatus) int {
	for i, st := range Sequence {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal сообщает, что из статуса нет переходов.
func IsTerminal(s model.OrderStatus) bool {
	return s == model.OrderStatusDelivered || s == model.OrderStatusCancelled
}

// Cancellable сообщает, можно ли отменить заказ в этом статусе.
func Cancellable(s model.OrderStatus) bool {
	return cancellable[s]
}

// Next возвращает следующий статус доставки.
func Next(s model.OrderStatus) (model.OrderStatus, bool) {
	i := Index(s)
	if i < 0 || i+1 >= len(Sequence) {
		return "", false
	}
	return Sequence[i+1], true
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to model.OrderStatus) bool {
	if !from.Valid() || !to.Valid() || IsTerminal(from) {
		return false
	}
	if to == model.OrderStatusCancelled {
		return Cancellable(from)
	}
	next, ok := Next(from)
	return ok && next == to
}

// Validate возвращает *apperr.InvalidTransitionError, если переход недопустим.
func Validate(from, to model.OrderStatus) error {
	if !CanTransition(from, to) {
		return &apperr.InvalidTransitionError{From: string(from), To: string(to)}
	}
	return nil
}
