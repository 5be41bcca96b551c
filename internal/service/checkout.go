package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/events"
	"github.com/mmeshcher/storefront/internal/gateway"
	"github.com/mmeshcher/storefront/internal/guard"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/pricing"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/validation"
)

const maxOrderIDBumps = 3

// SubmitRequest содержит данные для оформления заказа.
// IdempotencyKey берётся из заголовка Idempotency-Key; пустой ключ вычисляется из содержимого заказа.
// ExpectedAmount задаёт сумму в минимальных единицах, которую видел клиент. Если nil, сумма не проверяется.
type SubmitRequest struct {
	UserID         string
	SessionID      string
	IdempotencyKey string
	Items          []model.CartLine
	Shipping       model.ShippingInfo
	Method         model.PaymentMethod
	Card           *model.CardInput
	ExpectedAmount *int64
}

// Checkout содержит данные, нужные клиенту для оплаты через шлюз.
type Checkout struct {
	Provider       string
	GatewayOrderID string
	Amount         int64
	Currency       string
	KeyID          string
}

// SubmitResult содержит результат оформления заказа.
type SubmitResult struct {
	Order    *model.Order
	Checkout *Checkout
	// Replayed означает, что заказ с тем же ключом идемпотентности уже существовал.
	Replayed bool
}

func (s *Service) validateSubmission(req SubmitRequest) ([]model.CartLine, model.ShippingInfo, error) {
	if err := validation.ValidateItems(req.Items); err != nil {
		return nil, model.ShippingInfo{}, err
	}

	shipping := validation.NormalizeShipping(req.Shipping)
	if err := validation.ValidateShipping(shipping); err != nil {
		return nil, model.ShippingInfo{}, err
	}

	if !req.Method.Valid() {
		return nil, model.ShippingInfo{}, apperr.NewValidationError("paymentMethod", "must be one of card, alt_wallet, cod")
	}
	if req.Method == model.PaymentMethodCard {
		if err := validation.ValidateCard(req.Card); err != nil {
			return nil, model.ShippingInfo{}, err
		}
	}

	return append([]model.CartLine(nil), req.Items...), shipping, nil
}

func submissionLockKey(req SubmitRequest) string {
	if req.SessionID != "" {
		return "submit:session:" + req.SessionID
	}
	return "submit:user:" + req.UserID
}

// idempotencyKey вычисляет ключ по содержимому заказа и временному окну.
func (s *Service) idempotencyKey(userID string, method model.PaymentMethod, items []model.CartLine, shipping model.ShippingInfo) string {
	payload, _ := json.Marshal(struct {
		UserID   string              `json:"u"`
		Method   model.PaymentMethod `json:"m"`
		Items    []model.CartLine    `json:"i"`
		Shipping model.ShippingInfo  `json:"s"`
		Bucket   int64               `json:"b"`
	}{userID, method, items, shipping, s.now().Truncate(s.window).Unix()})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s *Service) nextOrderID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	ms := s.now().UnixMilli()
	if ms <= s.lastID {
		ms = s.lastID + 1
	}
	s.lastID = ms
	return fmt.Sprintf("ORD-%d", ms)
}

func (s *Service) backoff() retry.Backoff {
	return retry.WithMaxRetries(s.persistRetries, retry.NewExponential(s.persistBackoff))
}

// persistNew сохраняет новый заказ. При совпадении номера номер сдвигается вперёд.
func (s *Service) persistNew(ctx context.Context, o *model.Order) error {
	bumps := 0
	return retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		err := s.repo.CreateOrder(ctx, o)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
			return err
		case errors.Is(err, repository.ErrDuplicateOrderID):
			if bumps >= maxOrderIDBumps {
				return err
			}
			bumps++
			o.OrderID = s.nextOrderID()
			return retry.RetryableError(err)
		default:
			s.logger.Warn("persist order attempt failed", zap.String("order_id", o.OrderID), zap.Error(err))
			return retry.RetryableError(err)
		}
	})
}

func (s *Service) checkoutFor(o *model.Order) *Checkout {
	g, ok := model.GatewayDetails(o.PaymentDetails)
	if !ok {
		return nil
	}
	return &Checkout{
		Provider:       g.Provider,
		GatewayOrderID: g.GatewayOrderID,
		Amount:         pricing.MinorUnits(o.Pricing.GrandTotal),
		Currency:       s.currency,
		KeyID:          s.KeyID(o.PaymentMethod),
	}
}

// Submit проверяет корзину и доставку, считает стоимость, создаёт заказ у шлюза (для карты и кошелька)
// и сохраняет заказ в статусе pending. Повторная отправка с тем же ключом идемпотентности
// возвращает уже созданный заказ.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	items, shipping, err := s.validateSubmission(req)
	if err != nil {
		countSubmission(req.Method, "", err)
		return nil, err
	}

	breakdown := pricing.Compute(items)
	if !pricing.FitsMinorUnits(breakdown.GrandTotal) {
		err := apperr.NewValidationError("items", "order total is too large")
		countSubmission(req.Method, "", err)
		return nil, err
	}
	if req.ExpectedAmount != nil && *req.ExpectedAmount != pricing.MinorUnits(breakdown.GrandTotal) {
		err := apperr.NewValidationError("amount", "does not match the order total")
		countSubmission(req.Method, "", err)
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, submissionLockKey(req))
	if err != nil {
		if errors.Is(err, guard.ErrHeld) {
			err = apperr.ErrSubmissionInFlight
		} else {
			err = fmt.Errorf("acquire submission lock: %w", err)
		}
		countSubmission(req.Method, "", err)
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release submission lock", zap.String("user_id", req.UserID), zap.Error(err))
		}
	}()

	key := req.IdempotencyKey
	if key == "" {
		key = s.idempotencyKey(req.UserID, req.Method, items, shipping)
	}

	existing, err := s.repo.GetOrderByIdempotencyKey(ctx, req.UserID, key)
	switch {
	case err == nil:
		s.logger.Info("order submission replayed",
			zap.String("order_id", existing.OrderID),
			zap.String("user_id", req.UserID),
		)
		countSubmission(req.Method, "replayed", nil)
		return &SubmitResult{Order: existing, Checkout: s.checkoutFor(existing), Replayed: true}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	now := s.now()
	order := &model.Order{
		OrderID:        s.nextOrderID(),
		UserID:         req.UserID,
		IdempotencyKey: key,
		Items:          items,
		ShippingInfo:   shipping,
		PaymentMethod:  req.Method,
		Pricing:        breakdown,
		Status:         model.OrderStatusPending,
		OrderDate:      now,
		UpdatedAt:      now,
	}

	if req.Method.UsesGateway() {
		details, err := s.createRemoteOrder(ctx, order)
		if err != nil {
			countSubmission(req.Method, "", err)
			return nil, err
		}
		order.PaymentDetails = details
	} else {
		order.PaymentDetails = gateway.CreateCODRecord(order)
	}

	if err := s.persistNew(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			if existing, gerr := s.repo.GetOrderByIdempotencyKey(ctx, req.UserID, key); gerr == nil {
				countSubmission(req.Method, "replayed", nil)
				return &SubmitResult{Order: existing, Checkout: s.checkoutFor(existing), Replayed: true}, nil
			}
		}

		pe := &apperr.PersistenceError{OrderID: order.OrderID, Err: err}
		if g, ok := model.GatewayDetails(order.PaymentDetails); ok {
			pe.GatewayOrderID = g.GatewayOrderID
		}
		s.logger.Error("persist order failed",
			zap.String("order_id", order.OrderID),
			zap.String("gateway_order_id", pe.GatewayOrderID),
			zap.Error(err),
		)
		countSubmission(req.Method, "", pe)
		return nil, pe
	}

	s.logger.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("method", string(order.PaymentMethod)),
		zap.String("grand_total", order.Pricing.GrandTotal.String()),
	)
	countSubmission(req.Method, "created", nil)
	s.publish(ctx, events.EventOrderCreated, order)

	return &SubmitResult{Order: order, Checkout: s.checkoutFor(order)}, nil
}

func (s *Service) createRemoteOrder(ctx context.Context, o *model.Order) (model.PaymentDetails, error) {
	gw, err := s.gatewayFor(o.PaymentMethod)
	if err != nil {
		return nil, err
	}

	remote, err := gw.CreateRemoteOrder(ctx, o.Pricing.GrandTotal, s.currency, o.OrderID)
	if err != nil {
		s.logger.Warn("create remote order failed",
			zap.String("order_id", o.OrderID),
			zap.String("provider", gw.Provider()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create remote order: %w", err)
	}

	return model.WithGateway(o.PaymentMethod, model.GatewayPayment{
		Provider:       gw.Provider(),
		GatewayOrderID: remote.ID,
	})
}

// RetryPayment создаёт новый заказ у шлюза для неоплаченного заказа и запоминает его идентификатор.
// Прежние удалённые заказы остаются в истории, оплата по ним тоже принимается.
func (s *Service) RetryPayment(ctx context.Context, userID, orderID string) (*SubmitResult, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.PaymentMethod.UsesGateway() {
		return nil, apperr.NewValidationError("paymentMethod", "order is not paid through a gateway")
	}
	if !o.AwaitingPayment() {
		return nil, apperr.ErrAlreadyPaid
	}
	if o.Status != model.OrderStatusPending {
		return nil, apperr.NewValidationError("dbOrderId", "order is not awaiting payment")
	}

	release, err := s.locker.Acquire(ctx, "retry:order:"+o.OrderID)
	if err != nil {
		if errors.Is(err, guard.ErrHeld) {
			return nil, apperr.ErrSubmissionInFlight
		}
		return nil, fmt.Errorf("acquire payment retry lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release payment retry lock", zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	// под блокировкой заказ мог успеть оплатиться или смениться удалённый заказ
	if o, err = s.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	if !o.AwaitingPayment() {
		return nil, apperr.ErrAlreadyPaid
	}
	prev, _ := model.GatewayDetails(o.PaymentDetails)

	created, err := s.createRemoteOrder(ctx, o)
	if err != nil {
		return nil, err
	}
	next, _ := model.GatewayDetails(created)
	g := prev.Superseded(next.GatewayOrderID)
	g.Provider = next.Provider

	details, err := model.WithGateway(o.PaymentMethod, g)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateGatewayPayment(ctx, o.OrderID, g); err != nil {
		if errors.Is(err, repository.ErrPaymentConflict) {
			return nil, apperr.ErrAlreadyPaid
		}
		return nil, &apperr.PersistenceError{OrderID: o.OrderID, GatewayOrderID: g.GatewayOrderID, Err: err}
	}
	o.PaymentDetails = details
	o.UpdatedAt = s.now()

	s.logger.Info("payment retry started",
		zap.String("order_id", o.OrderID),
		zap.String("gateway_order_id", g.GatewayOrderID),
	)
	return &SubmitResult{Order: o, Checkout: s.checkoutFor(o)}, nil
}

// AbandonPayment фиксирует, что покупатель закрыл окно оплаты. Заказ не меняется.
func (s *Service) AbandonPayment(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment abandoned",
		zap.String("order_id", o.OrderID),
		zap.String("user_id", userID),
		zap.Bool("awaiting_payment", o.AwaitingPayment()),
	)
	return o, nil
}
