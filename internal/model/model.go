// Package model содержит доменные сущности сервиса заказов витрины.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CartLine описывает позицию корзины. После копирования в заказ не изменяется.
type CartLine struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"imageRef,omitempty"`
}

// PricingBreakdown содержит расчёт стоимости заказа.
// GrandTotal всегда равен Subtotal + DeliveryFee + HandlingFee.
type PricingBreakdown struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	HandlingFee decimal.Decimal `json:"handlingFee"`
	GrandTotal  decimal.Decimal `json:"grandTotal"`
}

// ShippingInfo содержит адрес доставки, введённый покупателем.
type ShippingInfo struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,phone"`
	Address  string `json:"address" validate:"required"`
	City     string `json:"city" validate:"required"`
	State    string `json:"state" validate:"required"`
	ZipCode  string `json:"zipCode" validate:"required"`
	Country  string `json:"country" validate:"required"`
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCard      PaymentMethod = "card"
	PaymentMethodAltWallet PaymentMethod = "alt_wallet"
	PaymentMethodCOD       PaymentMethod = "cod"
)

// Valid сообщает, известен ли способ оплаты.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodAltWallet, PaymentMethodCOD:
		return true
	default:
		return false
	}
}

// UsesGateway сообщает, проходит ли оплата через внешний шлюз.
func (m PaymentMethod) UsesGateway() bool {
	return m == PaymentMethodCard || m == PaymentMethodAltWallet
}

// PaymentDetails хранит платёжные данные заказа: CardPayment, WalletPayment или CODPayment.
// Сырые реквизиты карты сюда никогда не попадают.
type PaymentDetails interface {
	Method() PaymentMethod
	isPaymentDetails()
}

// GatewayPayment содержит ссылки шлюза на удалённый заказ и платёж.
// PreviousGatewayOrderIDs хранит удалённые заказы, заменённые повторной попыткой оплаты:
// колбэк по ним может прийти позже.
type GatewayPayment struct {
	Provider                string     `json:"provider"`
	GatewayOrderID          string     `json:"gatewayOrderId"`
	PreviousGatewayOrderIDs []string   `json:"previousGatewayOrderIds,omitempty"`
	GatewayPaymentID        string     `json:"gatewayPaymentId,omitempty"`
	Signature               string     `json:"signature,omitempty"`
	PaidAt                  *time.Time `json:"paidAt,omitempty"`
}

// Paid сообщает, подтверждена ли оплата.
func (g GatewayPayment) Paid() bool {
	return g.GatewayPaymentID != ""
}

// Issued сообщает, выдавался ли удалённый заказ с таким идентификатором для этого заказа.
func (g GatewayPayment) Issued(gatewayOrderID string) bool {
	if gatewayOrderID == "" {
		return false
	}
	if gatewayOrderID == g.GatewayOrderID {
		return true
	}
	for _, id := range g.PreviousGatewayOrderIDs {
		if id == gatewayOrderID {
			return true
		}
	}
	return false
}

// Superseded возвращает данные шлюза с новым удалённым заказом. Текущий уходит в историю.
func (g GatewayPayment) Superseded(gatewayOrderID string) GatewayPayment {
	next := GatewayPayment{Provider: g.Provider, GatewayOrderID: gatewayOrderID}
	next.PreviousGatewayOrderIDs = appendHistory(g.PreviousGatewayOrderIDs, gatewayOrderID, g.GatewayOrderID)
	return next
}

// MergeGatewayHistory переносит в next историю удалённых заказов из stored, чтобы
// параллельные записи не теряли выданные идентификаторы.
func MergeGatewayHistory(stored, next GatewayPayment) GatewayPayment {
	next.PreviousGatewayOrderIDs = appendHistory(next.PreviousGatewayOrderIDs, next.GatewayOrderID,
		append(append([]string(nil), stored.PreviousGatewayOrderIDs...), stored.GatewayOrderID)...)
	return next
}

func appendHistory(history []string, current string, ids ...string) []string {
	res := make([]string, 0, len(history)+len(ids))
	seen := map[string]bool{current: true, "": true}
	for _, id := range append(append([]string(nil), history...), ids...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, id)
	}
	if len(res) == 0 {
		return nil
	}
	return res
}

// CardPayment описывает оплату картой через платёжный шлюз.
type CardPayment struct {
	GatewayPayment
}

// WalletPayment описывает оплату альтернативным кошельком через отдельного провайдера.
type WalletPayment struct {
	GatewayPayment
}

// CODPayment описывает оплату при получении.
type CODPayment struct{}

func (CardPayment) Method() PaymentMethod   { return PaymentMethodCard }
func (WalletPayment) Method() PaymentMethod { return PaymentMethodAltWallet }
func (CODPayment) Method() PaymentMethod    { return PaymentMethodCOD }

func (CardPayment) isPaymentDetails()   {}
func (WalletPayment) isPaymentDetails() {}
func (CODPayment) isPaymentDetails()    {}

// GatewayDetails возвращает данные шлюза для карты и кошелька.
func GatewayDetails(d PaymentDetails) (GatewayPayment, bool) {
	switch p := d.(type) {
	case CardPayment:
		return p.GatewayPayment, true
	case WalletPayment:
		return p.GatewayPayment, true
	default:
		return GatewayPayment{}, false
	}
}

// WithGateway возвращает платёжные данные того же вида с новыми данными шлюза.
func WithGateway(method PaymentMethod, g GatewayPayment) (PaymentDetails, error) {
	switch method {
	case PaymentMethodCard:
		return CardPayment{GatewayPayment: g}, nil
	case PaymentMethodAltWallet:
		return WalletPayment{GatewayPayment: g}, nil
	default:
		return nil, fmt.Errorf("payment method %q does not use a gateway", method)
	}
}

// EncodePaymentDetails сериализует платёжные данные для хранения.
func EncodePaymentDetails(d PaymentDetails) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// DecodePaymentDetails восстанавливает платёжные данные по способу оплаты.
func DecodePaymentDetails(method PaymentMethod, data []byte) (PaymentDetails, error) {
	switch method {
	case PaymentMethodCOD:
		return CODPayment{}, nil
	case PaymentMethodCard, PaymentMethodAltWallet:
		var g GatewayPayment
		if len(data) > 0 {
			if err := json.Unmarshal(data, &g); err != nil {
				return nil, fmt.Errorf("decode payment details: %w", err)
			}
		}
		return WithGateway(method, g)
	default:
		return nil, fmt.Errorf("unknown payment method %q", method)
	}
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Order описывает оформленный заказ.
type Order struct {
	OrderID        string
	UserID         string
	IdempotencyKey string
	Items          []CartLine
	ShippingInfo   ShippingInfo
	PaymentMethod  PaymentMethod
	PaymentDetails PaymentDetails
	Pricing        PricingBreakdown
	Status         OrderStatus
	OrderDate      time.Time
	UpdatedAt      time.Time
}

// Paid сообщает, подтверждена ли оплата заказа через шлюз. Для оплаты при получении всегда false.
func (o *Order) Paid() bool {
	g, ok := GatewayDetails(o.PaymentDetails)
	return ok && g.Paid()
}

// AwaitingPayment сообщает, что заказ оплачивается через шлюз и оплата ещё не подтверждена.
func (o *Order) AwaitingPayment() bool {
	if !o.PaymentMethod.UsesGateway() {
		return false
	}
	g, ok := GatewayDetails(o.PaymentDetails)
	return !ok || !g.Paid()
}

// TrackingMilestone описывает этап доставки. Вычисляется из статуса и даты заказа.
type TrackingMilestone struct {
	Status      OrderStatus `json:"status"`
	Description string      `json:"description"`
	Date        time.Time   `json:"expectedOrActualDate"`
	Completed   bool        `json:"completed"`
}

// CardInput содержит реквизиты карты из формы оплаты. Используется только для проверки
// перед обращением к шлюзу и никогда не сохраняется.
type CardInput struct {
	Number     string `json:"cardNumber"`
	HolderName string `json:"cardHolder"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
}
