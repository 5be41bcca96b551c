package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/events"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
)

// VerifyRequest содержит колбэк шлюза, пересланный клиентом после оплаты.
type VerifyRequest struct {
	UserID           string
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// VerifyPayment проверяет подпись колбэка и записывает оплату.
// Одинаковые параллельные запросы выполняются один раз; повтор с тем же платежом возвращает заказ без записи.
func (s *Service) VerifyPayment(ctx context.Context, req VerifyRequest) (*model.Order, error) {
	key := req.UserID + "|" + req.OrderID + "|" + req.GatewayOrderID + "|" + req.GatewayPaymentID + "|" + req.Signature

	ch := s.verifyGroup.DoChan(key, func() (any, error) {
		// запись после списания денег не должна обрываться из-за отключившегося клиента
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
		defer cancel()
		return s.verifyPayment(vctx, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		o := *res.Val.(*model.Order)
		return &o, nil
	}
}

func (s *Service) verifyPayment(ctx context.Context, req VerifyRequest) (*model.Order, error) {
	o, err := s.ownedOrder(ctx, req.UserID, req.OrderID)
	if err != nil {
		countVerification("", err)
		return nil, err
	}

	g, ok := model.GatewayDetails(o.PaymentDetails)
	if !ok {
		err := apperr.NewValidationError("dbOrderId", "order is not paid through a gateway")
		countVerification("", err)
		return nil, err
	}

	gw, err := s.gatewayFor(o.PaymentMethod)
	if err != nil {
		countVerification("", err)
		return nil, err
	}

	if !g.Issued(req.GatewayOrderID) || !gw.VerifyCallback(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		s.logger.Warn("payment signature mismatch",
			zap.String("order_id", o.OrderID),
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("gateway_payment_id", req.GatewayPaymentID),
		)
		countVerification("", apperr.ErrSignatureMismatch)
		return nil, apperr.ErrSignatureMismatch
	}

	if g.Paid() {
		if g.GatewayPaymentID == req.GatewayPaymentID {
			countVerification("replayed", nil)
			return o, nil
		}
		s.duplicateCharge(o, g, req)
		countVerification("", apperr.ErrAlreadyPaid)
		return nil, apperr.ErrAlreadyPaid
	}

	if req.GatewayOrderID != g.GatewayOrderID {
		s.logger.Warn("payment captured for superseded gateway order",
			zap.String("order_id", o.OrderID),
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("current_gateway_order_id", g.GatewayOrderID),
		)
		g = g.Superseded(req.GatewayOrderID)
	}

	paidAt := s.now().UTC()
	g.GatewayPaymentID = req.GatewayPaymentID
	g.Signature = req.Signature
	g.PaidAt = &paidAt

	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := s.repo.UpdateGatewayPayment(ctx, o.OrderID, g)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrPaymentConflict), errors.Is(err, repository.ErrNotFound):
			return err
		default:
			s.logger.Warn("record payment attempt failed", zap.String("order_id", o.OrderID), zap.Error(err))
			return retry.RetryableError(err)
		}
	})
	if errors.Is(err, repository.ErrPaymentConflict) {
		return s.resolvePaymentConflict(ctx, req)
	}
	if err != nil {
		pe := &apperr.PersistenceError{
			OrderID:          o.OrderID,
			GatewayOrderID:   g.GatewayOrderID,
			GatewayPaymentID: g.GatewayPaymentID,
			Charged:          true,
			Err:              err,
		}
		reconciliationRequired.Inc()
		countVerification("", pe)
		s.logger.Error("payment captured but not recorded, reconciliation required",
			zap.String("order_id", o.OrderID),
			zap.String("user_id", o.UserID),
			zap.String("gateway_order_id", g.GatewayOrderID),
			zap.String("gateway_payment_id", g.GatewayPaymentID),
			zap.String("amount", o.Pricing.GrandTotal.String()),
			zap.Error(err),
		)
		return nil, pe
	}

	details, err := model.WithGateway(o.PaymentMethod, g)
	if err != nil {
		return nil, fmt.Errorf("apply payment: %w", err)
	}
	o.PaymentDetails = details
	o.UpdatedAt = paidAt

	s.logger.Info("payment verified",
		zap.String("order_id", o.OrderID),
		zap.String("gateway_payment_id", g.GatewayPaymentID),
	)
	countVerification("verified", nil)
	s.publish(ctx, events.EventPaymentVerified, o)

	return o, nil
}

// resolvePaymentConflict перечитывает заказ, который параллельно оплатили.
func (s *Service) resolvePaymentConflict(ctx context.Context, req VerifyRequest) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}
	g, ok := model.GatewayDetails(o.PaymentDetails)
	if ok && g.GatewayPaymentID == req.GatewayPaymentID {
		countVerification("replayed", nil)
		return o, nil
	}
	s.duplicateCharge(o, g, req)
	countVerification("", apperr.ErrAlreadyPaid)
	return nil, apperr.ErrAlreadyPaid
}

// duplicateCharge фиксирует подтверждённый шлюзом второй платёж по уже оплаченному заказу.
// Деньги списаны дважды, нужен возврат вручную.
func (s *Service) duplicateCharge(o *model.Order, g model.GatewayPayment, req VerifyRequest) {
	reconciliationRequired.Inc()
	s.logger.Error("order charged twice, reconciliation required",
		zap.String("order_id", o.OrderID),
		zap.String("user_id", o.UserID),
		zap.String("gateway_payment_id", g.GatewayPaymentID),
		zap.String("duplicate_gateway_order_id", req.GatewayOrderID),
		zap.String("duplicate_gateway_payment_id", req.GatewayPaymentID),
		zap.String("amount", o.Pricing.GrandTotal.String()),
	)
}
