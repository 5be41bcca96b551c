package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/storefront/internal/model"
)

// MemoryRepository хранит заказы в памяти процесса. Используется без БД и в тестах.
type MemoryRepository struct {
	mu          sync.RWMutex
	orders      map[string]model.Order
	idempotency map[string]string
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:      make(map[string]model.Order),
		idempotency: make(map[string]string),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

func idempotencyIndex(userID, key string) string {
	return userID + "\x00" + key
}

func cloneOrder(o model.Order) *model.Order {
	o.Items = append([]model.CartLine(nil), o.Items...)
	return &o
}

// CreateOrder сохраняет новый заказ.
func (r *MemoryRepository) CreateOrder(_ context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.OrderID]; ok {
		return ErrDuplicateOrderID
	}
	idx := idempotencyIndex(o.UserID, o.IdempotencyKey)
	if _, ok := r.idempotency[idx]; ok {
		return ErrDuplicateIdempotencyKey
	}

	r.orders[o.OrderID] = *cloneOrder(*o)
	r.idempotency[idx] = o.OrderID
	return nil
}

// GetOrder возвращает заказ по номеру.
func (r *MemoryRepository) GetOrder(_ context.Context, orderID string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetOrderByIdempotencyKey возвращает заказ пользователя по ключу идемпотентности.
func (r *MemoryRepository) GetOrderByIdempotencyKey(_ context.Context, userID, key string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idempotency[idempotencyIndex(userID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(r.orders[id]), nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *MemoryRepository) GetOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			res = append(res, *cloneOrder(o))
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].OrderDate.Equal(res[j].OrderDate) {
			return res[i].OrderID > res[j].OrderID
		}
		return res[i].OrderDate.After(res[j].OrderDate)
	})
	return res, nil
}

// UpdateGatewayPayment записывает данные шлюза, если заказ не оплачен другим платежом.
// История удалённых заказов объединяется с сохранённой.
func (r *MemoryRepository) UpdateGatewayPayment(_ context.Context, orderID string, g model.GatewayPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}

	cur, ok := model.GatewayDetails(o.PaymentDetails)
	if ok && cur.Paid() && cur.GatewayPaymentID != g.GatewayPaymentID {
		return ErrPaymentConflict
	}
	g = model.MergeGatewayHistory(cur, g)

	details, err := model.WithGateway(o.PaymentMethod, g)
	if err != nil {
		return err
	}
	o.PaymentDetails = details
	o.UpdatedAt = time.Now()
	r.orders[orderID] = o
	return nil
}

// UpdateStatus меняет статус заказа с from на to.
func (r *MemoryRepository) UpdateStatus(_ context.Context, orderID string, from, to model.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStatusConflict
	}

	o.Status = to
	o.UpdatedAt = time.Now()
	r.orders[orderID] = o
	return nil
}
