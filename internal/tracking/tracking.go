// Package tracking строит хронологию доставки заказа.
package tracking

import (
	"time"

	"github.com/mmeshcher/storefront/internal/lifecycle"
	"github.com/mmeshcher/storefront/internal/model"
)

var descriptions = map[model.OrderStatus]string{
	model.OrderStatusPending:        "Order placed",
	model.OrderStatusProcessing:     "Order is being prepared",
	model.OrderStatusShipped:        "Order shipped",
	model.OrderStatusOutForDelivery: "Out for delivery",
	model.OrderStatusDelivered:      "Delivered",
	model.OrderStatusCancelled:      "Order cancelled",
}

// Generate возвращает этапы доставки заказа. Зависит только от статуса и даты заказа.
func Generate(o *model.Order) []model.TrackingMilestone {
	return GenerateFor(o.Status, o.OrderDate)
}

// GenerateFor строит этапы: i-й этап приходится на orderDate + i дней
// и считается пройденным, если его индекс не больше индекса текущего статуса.
// Для отменённого заказа возвращается один этап.
func GenerateFor(status model.OrderStatus, orderDate time.Time) []model.TrackingMilestone {
	if status == model.OrderStatusCancelled {
		return []model.TrackingMilestone{{
			Status:      model.OrderStatusCancelled,
			Description: descriptions[model.OrderStatusCancelled],
			Date:        orderDate,
			Completed:   true,
		}}
	}

	current := lifecycle.Index(status)

	out := make([]model.TrackingMilestone, 0, len(lifecycle.Sequence))
	for i, s := range lifecycle.Sequence {
		out = append(out, model.TrackingMilestone{
			Status:      s,
			Description: descriptions[s],
			Date:        orderDate.AddDate(0, 0, i),
			Completed:   i <= current,
		})
	}
	return out
}
