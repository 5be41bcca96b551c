// Package service реализует оформление заказов, подтверждение оплаты и смену статусов.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/events"
	"github.com/mmeshcher/storefront/internal/gateway"
	"github.com/mmeshcher/storefront/internal/guard"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/tracking"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	UpdateGatewayPayment(ctx context.Context, orderID string, g model.GatewayPayment) error
	UpdateStatus(ctx context.Context, orderID string, from, to model.OrderStatus) error
}

// Gateway описывает платёжный шлюз.
type Gateway interface {
	Provider() string
	KeyID() string
	CreateRemoteOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*gateway.RemoteOrder, error)
	VerifyCallback(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// Options содержит настройки сервиса. Нулевые значения заменяются значениями по умолчанию.
// PersistTimeout ограничивает запись оплаты, которая не прерывается отменой запроса.
type Options struct {
	Currency          string
	IdempotencyWindow time.Duration
	PersistBackoff    time.Duration
	PersistRetries    uint64
	PersistTimeout    time.Duration
}

// Service содержит бизнес-логику жизненного цикла заказа.
type Service struct {
	repo      Repository
	gateways  map[model.PaymentMethod]Gateway
	locker    guard.Locker
	publisher events.Publisher
	logger    *zap.Logger

	currency       string
	window         time.Duration
	persistBackoff time.Duration
	persistRetries uint64
	persistTimeout time.Duration

	now         func() time.Time
	verifyGroup singleflight.Group

	idMu   sync.Mutex
	lastID int64
}

// NewService создаёт сервис. gateways сопоставляет способ оплаты и шлюз; для cod шлюз не нужен.
func NewService(
	repo Repository,
	gateways map[model.PaymentMethod]Gateway,
	locker guard.Locker,
	publisher events.Publisher,
	logger *zap.Logger,
	opts Options,
) *Service {
	if locker == nil {
		locker = guard.NewMemoryLocker(30 * time.Second)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.IdempotencyWindow <= 0 {
		opts.IdempotencyWindow = 10 * time.Minute
	}
	if opts.PersistBackoff <= 0 {
		opts.PersistBackoff = 100 * time.Millisecond
	}
	if opts.PersistRetries == 0 {
		opts.PersistRetries = 3
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 15 * time.Second
	}

	return &Service{
		repo:           repo,
		gateways:       gateways,
		locker:         locker,
		publisher:      publisher,
		logger:         logger,
		currency:       opts.Currency,
		window:         opts.IdempotencyWindow,
		persistBackoff: opts.PersistBackoff,
		persistRetries: opts.PersistRetries,
		persistTimeout: opts.PersistTimeout,
		now:            time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Currency возвращает валюту расчётов.
func (s *Service) Currency() string { return s.currency }

// KeyID возвращает публичный ключ шлюза для способа оплаты.
func (s *Service) KeyID(method model.PaymentMethod) string {
	if gw, ok := s.gateways[method]; ok && gw != nil {
		return gw.KeyID()
	}
	return ""
}

func (s *Service) gatewayFor(method model.PaymentMethod) (Gateway, error) {
	gw, ok := s.gateways[method]
	if !ok || gw == nil {
		return nil, fmt.Errorf("no gateway for %s: %w", method, apperr.ErrGatewayUnavailable)
	}
	return gw, nil
}

func (s *Service) ownedOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o.UserID != userID {
		return nil, apperr.ErrOrderNotFound
	}
	return o, nil
}

// GetOrder возвращает заказ пользователя.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	return s.ownedOrder(ctx, userID, orderID)
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]model.Order, error) {
	orders, err := s.repo.GetOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// TrackingView — таймлайн доставки заказа.
type TrackingView struct {
	OrderID    string
	Status     model.OrderStatus
	Milestones []model.TrackingMilestone
}

// Tracking строит таймлайн доставки заказа пользователя.
func (s *Service) Tracking(ctx context.Context, userID, orderID string) (*TrackingView, error) {
	o, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return &TrackingView{
		OrderID:    o.OrderID,
		Status:     o.Status,
		Milestones: tracking.Generate(o),
	}, nil
}

func (s *Service) publish(ctx context.Context, t events.EventType, o *model.Order) {
	if err := s.publisher.Publish(ctx, events.NewOrderEvent(t, o, s.now())); err != nil {
		s.logger.Warn("publish order event",
			zap.String("type", string(t)),
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
	}
}
