// Package handler содержит HTTP-обработчики API заказов и оплаты.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	VerifyPayment(ctx context.Context, req service.VerifyRequest) (*model.Order, error)
	RetryPayment(ctx context.Context, userID, orderID string) (*service.SubmitResult, error)
	AbandonPayment(ctx context.Context, userID, orderID string) (*model.Order, error)
	GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, userID string) ([]model.Order, error)
	Tracking(ctx context.Context, userID, orderID string) (*service.TrackingView, error)
	TransitionStatus(ctx context.Context, orderID string, to model.OrderStatus) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	Currency() string
	KeyID(method model.PaymentMethod) string
}

// Options содержит таймауты обработчиков и проверку готовности.
type Options struct {
	RequestTimeout     time.Duration
	PaymentWaitTimeout time.Duration
	// Ping проверяет зависимости для /health. Если nil, сервис считается готовым.
	Ping func(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API заказов и оплаты.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	opts           Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.PaymentWaitTimeout <= 0 {
		opts.PaymentWaitTimeout = 30 * time.Second
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		opts:           opts,
	}
}

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`
}

type errorResponse struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	detail := errorDetail{
		Kind:      apperr.Kind(err),
		Message:   err.Error(),
		Retryable: apperr.Retryable(err),
	}

	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		detail.Field = ve.Field
		detail.Message = ve.Reason
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", detail.Kind),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			detail.Message = http.StatusText(status)
		}
	}

	writeJSON(w, status, errorResponse{Error: detail})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.NewValidationError("body", "malformed JSON")
	}
	return nil
}

func (h *Handler) withTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

func identity(r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok || id.UserID == "" {
		return middleware.Identity{}, false
	}
	return id, true
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errorDetail{
		Kind:    "unauthorized",
		Message: http.StatusText(http.StatusUnauthorized),
	}})
}

// Health сообщает о готовности сервиса.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
