package handler

import (
	"net/http"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/service"
)

// CreatePaymentOrder оформляет заказ с оплатой через шлюз и возвращает данные для окна оплаты.
func (h *Handler) CreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req createPaymentOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.OrderData.PaymentMethod == "" {
		req.OrderData.PaymentMethod = model.PaymentMethodCard
	}
	if !req.OrderData.PaymentMethod.UsesGateway() {
		h.writeError(w, r, apperr.NewValidationError("orderData.paymentMethod", "must be card or alt_wallet"))
		return
	}
	if req.Currency != "" && req.Currency != h.service.Currency() {
		h.writeError(w, r, apperr.NewValidationError("currency", "must be "+h.service.Currency()))
		return
	}

	submit, err := submitRequestFrom(id, r, req.OrderData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	submit.ExpectedAmount = req.Amount

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	res, err := h.service.Submit(ctx, submit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Checkout == nil {
		h.writeError(w, r, apperr.ErrGatewayUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, createPaymentOrderResponse{
		Success:        true,
		GatewayOrderID: res.Checkout.GatewayOrderID,
		Amount:         res.Checkout.Amount,
		Currency:       res.Checkout.Currency,
		DBOrderID:      res.Order.OrderID,
		KeyID:          res.Checkout.KeyID,
		Provider:       res.Checkout.Provider,
		Replayed:       res.Replayed,
	})
}

// CreateCODOrder оформляет заказ с оплатой при получении.
func (h *Handler) CreateCODOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req codOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.OrderData.PaymentMethod != "" && req.OrderData.PaymentMethod != model.PaymentMethodCOD {
		h.writeError(w, r, apperr.NewValidationError("orderData.paymentMethod", "must be cod"))
		return
	}
	req.OrderData.PaymentMethod = model.PaymentMethodCOD

	submit, err := submitRequestFrom(id, r, req.OrderData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	res, err := h.service.Submit(ctx, submit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, orderEnvelope{Success: true, Order: toOrderResponse(res.Order), Replayed: res.Replayed})
}

// VerifyPayment проверяет колбэк шлюза и отмечает заказ оплаченным.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req verifyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	switch {
	case req.DBOrderID == "":
		h.writeError(w, r, apperr.NewValidationError("dbOrderId", "is required"))
		return
	case req.GatewayOrderID == "":
		h.writeError(w, r, apperr.NewValidationError("gatewayOrderId", "is required"))
		return
	case req.GatewayPaymentID == "":
		h.writeError(w, r, apperr.NewValidationError("gatewayPaymentId", "is required"))
		return
	case req.Signature == "":
		h.writeError(w, r, apperr.NewValidationError("signature", "is required"))
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.PaymentWaitTimeout)
	defer cancel()

	o, err := h.service.VerifyPayment(ctx, service.VerifyRequest{
		UserID:           id.UserID,
		OrderID:          req.DBOrderID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderEnvelope{Success: true, Order: toOrderResponse(o)})
}

// RetryPayment создаёт новый заказ у шлюза для неоплаченного заказа.
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req orderRefRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.DBOrderID == "" {
		h.writeError(w, r, apperr.NewValidationError("dbOrderId", "is required"))
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	res, err := h.service.RetryPayment(ctx, id.UserID, req.DBOrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderEnvelope{
		Success:  true,
		Order:    toOrderResponse(res.Order),
		Checkout: toCheckoutResponse(res.Checkout),
	})
}

// AbandonPayment фиксирует закрытие окна оплаты. Заказ остаётся неоплаченным.
func (h *Handler) AbandonPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req orderRefRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.DBOrderID == "" {
		h.writeError(w, r, apperr.NewValidationError("dbOrderId", "is required"))
		return
	}

	ctx, cancel := h.withTimeout(r, h.opts.RequestTimeout)
	defer cancel()

	o, err := h.service.AbandonPayment(ctx, id.UserID, req.DBOrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderEnvelope{Success: true, Order: toOrderResponse(o)})
}

// PaymentConfig возвращает публичные ключи шлюзов и валюту.
func (h *Handler) PaymentConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"keyId":       h.service.KeyID(model.PaymentMethodCard),
		"walletKeyId": h.service.KeyID(model.PaymentMethodAltWallet),
		"currency":    h.service.Currency(),
	})
}
