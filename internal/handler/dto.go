package handler

import (
	"time"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/service"
)

// orderPayload — заказ в том виде, в котором его присылает витрина.
// orderId, pricing, status и orderDate сервер вычисляет сам и игнорирует.
type orderPayload struct {
	UserID        string                  `json:"userId"`
	OrderID       string                  `json:"orderId,omitempty"`
	Items         []model.CartLine        `json:"items"`
	ShippingInfo  model.ShippingInfo      `json:"shippingInfo"`
	PaymentMethod model.PaymentMethod     `json:"paymentMethod"`
	Pricing       *model.PricingBreakdown `json:"pricing,omitempty"`
	OrderDate     string                  `json:"orderDate,omitempty"`
	Status        string                  `json:"status,omitempty"`
	Card          *model.CardInput        `json:"card,omitempty"`
}

type createPaymentOrderRequest struct {
	Amount    *int64       `json:"amount,omitempty"`
	Currency  string       `json:"currency,omitempty"`
	Receipt   string       `json:"receipt,omitempty"`
	OrderData orderPayload `json:"orderData"`
}

type createPaymentOrderResponse struct {
	Success        bool   `json:"success"`
	GatewayOrderID string `json:"gatewayOrderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	DBOrderID      string `json:"dbOrderId"`
	KeyID          string `json:"keyId"`
	Provider       string `json:"provider"`
	Replayed       bool   `json:"replayed,omitempty"`
}

type codOrderRequest struct {
	OrderData orderPayload `json:"orderData"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
	DBOrderID        string `json:"dbOrderId"`
}

type orderRefRequest struct {
	DBOrderID string `json:"dbOrderId"`
}

type updateStatusRequest struct {
	Status model.OrderStatus `json:"status"`
}

type paymentDetailsResponse struct {
	Method           model.PaymentMethod `json:"method"`
	Provider         string              `json:"provider,omitempty"`
	GatewayOrderID   string              `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string              `json:"gatewayPaymentId,omitempty"`
	PaidAt           *time.Time          `json:"paidAt,omitempty"`
}

type orderResponse struct {
	OrderID        string                  `json:"orderId"`
	UserID         string                  `json:"userId"`
	Items          []model.CartLine        `json:"items"`
	ShippingInfo   model.ShippingInfo      `json:"shippingInfo"`
	PaymentMethod  model.PaymentMethod     `json:"paymentMethod"`
	PaymentDetails *paymentDetailsResponse `json:"paymentDetails,omitempty"`
	Pricing        model.PricingBreakdown  `json:"pricing"`
	Status         model.OrderStatus       `json:"status"`
	Paid           bool                    `json:"paid"`
	OrderDate      time.Time               `json:"orderDate"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

type orderEnvelope struct {
	Success  bool              `json:"success"`
	Order    orderResponse     `json:"order"`
	Checkout *checkoutResponse `json:"checkout,omitempty"`
	Replayed bool              `json:"replayed,omitempty"`
}

type checkoutResponse struct {
	Provider       string `json:"provider"`
	GatewayOrderID string `json:"gatewayOrderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId"`
}

type trackingResponse struct {
	OrderID    string                    `json:"orderId"`
	Status     model.OrderStatus         `json:"status"`
	Milestones []model.TrackingMilestone `json:"milestones"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		OrderID:       o.OrderID,
		UserID:        o.UserID,
		Items:         o.Items,
		ShippingInfo:  o.ShippingInfo,
		PaymentMethod: o.PaymentMethod,
		Pricing:       o.Pricing,
		Status:        o.Status,
		Paid:          o.Paid(),
		OrderDate:     o.OrderDate,
		UpdatedAt:     o.UpdatedAt,
	}
	if resp.Items == nil {
		resp.Items = []model.CartLine{}
	}
	if o.PaymentDetails != nil {
		resp.PaymentDetails = &paymentDetailsResponse{Method: o.PaymentDetails.Method()}
		if g, ok := model.GatewayDetails(o.PaymentDetails); ok {
			resp.PaymentDetails.Provider = g.Provider
			resp.PaymentDetails.GatewayOrderID = g.GatewayOrderID
			resp.PaymentDetails.GatewayPaymentID = g.GatewayPaymentID
			resp.PaymentDetails.PaidAt = g.PaidAt
		}
	}
	return resp
}

func toCheckoutResponse(c *service.Checkout) *checkoutResponse {
	if c == nil {
		return nil
	}
	return &checkoutResponse{
		Provider:       c.Provider,
		GatewayOrderID: c.GatewayOrderID,
		Amount:         c.Amount,
		Currency:       c.Currency,
		KeyID:          c.KeyID,
	}
}
