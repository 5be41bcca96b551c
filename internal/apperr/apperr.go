// Package apperr содержит классификацию ошибок жизненного цикла заказа и оплаты.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyCart возвращается при попытке оформить заказ с пустой корзиной.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrGatewayUnavailable возвращается, если платёжный шлюз недоступен. Ошибку можно повторить.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrSignatureMismatch возвращается, если подпись колбэка шлюза не прошла проверку.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrOrderNotFound возвращается, если заказ не найден или принадлежит другому пользователю.
	ErrOrderNotFound = errors.New("order not found")
	// ErrSubmissionInFlight возвращается при повторной отправке, пока предыдущая ещё выполняется.
	ErrSubmissionInFlight = errors.New("order submission already in progress")
	// ErrPaymentRequired возвращается при попытке продвинуть неоплаченный заказ.
	ErrPaymentRequired = errors.New("order is not paid")
	// ErrAlreadyPaid возвращается, если заказ уже оплачен другим платежом.
	ErrAlreadyPaid = errors.New("order already paid")
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError описывает некорректное поле во входных данных.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Kind возвращает класс ошибки.
func (e *ValidationError) Kind() string { return "validation" }

// NewValidationError создаёт ошибку валидации для указанного поля.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError возвращается при недопустимой смене статуса заказа.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Kind возвращает класс ошибки.
func (e *InvalidTransitionError) Kind() string { return "invalid_transition" }

// PersistenceError возвращается, если заказ не удалось сохранить.
// Charged означает, что деньги у шлюза уже списаны и требуется ручная сверка.
type PersistenceError struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Charged          bool
	Err              error
}

func (e *PersistenceError) Error() string {
	if e.Charged {
		return fmt.Sprintf("persist order %s (gateway order %s, payment %s): reconciliation required: %v",
			e.OrderID, e.GatewayOrderID, e.GatewayPaymentID, e.Err)
	}
	return fmt.Sprintf("persist order %s: %v", e.OrderID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Kind возвращает класс ошибки.
func (e *PersistenceError) Kind() string {
	if e.Charged {
		return "reconciliation_required"
	}
	return "persistence"
}

type kinder interface {
	Kind() string
}

// Kind возвращает машиночитаемый класс ошибки.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}

	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrSubmissionInFlight):
		return "submission_in_flight"
	case errors.Is(err, ErrPaymentRequired):
		return "payment_required"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

var kindToStatus = map[string]int{
	"validation":              http.StatusUnprocessableEntity,
	"empty_cart":              http.StatusBadRequest,
	"gateway_unavailable":     http.StatusServiceUnavailable,
	"signature_mismatch":      http.StatusBadRequest,
	"invalid_transition":      http.StatusConflict,
	"not_found":               http.StatusNotFound,
	"submission_in_flight":    http.StatusConflict,
	"payment_required":        http.StatusConflict,
	"already_paid":            http.StatusConflict,
	"forbidden":               http.StatusForbidden,
	"timeout":                 http.StatusGatewayTimeout,
	"canceled":                http.StatusRequestTimeout,
	"persistence":             http.StatusInternalServerError,
	"reconciliation_required": http.StatusInternalServerError,
}

// HTTPStatus сопоставляет ошибке код ответа HTTP.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[Kind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable сообщает, имеет ли смысл пользователю повторить операцию.
func Retryable(err error) bool {
	switch Kind(err) {
	case "gateway_unavailable", "signature_mismatch", "timeout", "submission_in_flight":
		return true
	default:
		return false
	}
}
