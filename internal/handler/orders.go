package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/service"
)

func submitRequestFrom(id middleware.Identity, r *http.Request, p orderPayload) (service.SubmitRequest, error) {
	if p.UserID != "" && p.UserID != id.UserID {
		return service.SubmitRequest{}, apperr.ErrForbidden
	}
	return service.SubmitRequest{
		UserID:         id.UserID,
		SessionID:      id.SessionID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Items:          p.Items,
		Shipping:       p.ShippingInfo,
		Method:         p.PaymentMethod,
		Card:           p.Card,
	}, nil
}

// CreateOrder оформляет заказ любым способом оплаты.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	var p orderPayload
	if err := decodeJSON(r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}

	req, err := submitRequestFrom(id, r, p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	res, err := h.service.Submit(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, orderEnvelope{
		Success:  true,
		Order:    toOrderResponse(res.Order),
		Checkout: toCheckoutResponse(res.Checkout),
		Replayed: res.Replayed,
	})
}

// GetOrder возвращает заказ текущего пользователя.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	o, err := h.service.GetOrder(ctx, id.UserID, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderEnvelope{Success: true, Order: toOrderResponse(o)})
}

// ListOrders возвращает заказы текущего пользователя, новые первыми.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	orders, err := h.service.ListOrders(ctx, id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"orders":  resp,
	})
}

// GetTracking возвращает таймлайн доставки заказа.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	view, err := h.service.Tracking(ctx, id.UserID, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, trackingResponse{
		OrderID:    view.OrderID,
		Status:     view.Status,
		Milestones: view.Milestones,
	})
}

// CancelOrder отменяет заказ текущего пользователя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	o, err := h.service.CancelOrder(ctx, id.UserID, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderEnvelope{Success: true, Order: toOrderResponse(o)})
}

// UpdateStatus меняет статус заказа. Доступно только администратору.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Status == "" {
		h.writeError(w, r, apperr.NewValidationError("status", "is required"))
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	orderID := chi.URLParam(r, "orderId")
	o, err := h.service.TransitionStatus(ctx, orderID, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("order status updated by admin",
		zap.String("order_id", orderID),
		zap.String("status", string(o.Status)),
		zap.String("admin_id", id.UserID),
	)
	writeJSON(w, http.StatusOK, orderEnvelope{Success: true, Order: toOrderResponse(o)})
}
