// Package pricing рассчитывает стоимость заказа по снимку корзины.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront/internal/model"
)

var (
	// DeliveryFee задаёт стоимость доставки. Сейчас доставка бесплатная для всех заказов.
	DeliveryFee = decimal.Zero
	// HandlingFee — фиксированный сбор за обработку непустого заказа.
	HandlingFee = decimal.NewFromInt(5)
)

var (
	minorUnitsPerUnit = decimal.NewFromInt(100)
	maxMinorUnits     = decimal.NewFromInt(math.MaxInt64)
)

// Compute возвращает детализацию стоимости для позиций корзины.
// Функция чистая: для одинаковых позиций результат всегда одинаков.
func Compute(lines []model.CartLine) model.PricingBreakdown {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	handling := decimal.Zero
	if len(lines) > 0 {
		handling = HandlingFee
	}

	return model.PricingBreakdown{
		Subtotal:    subtotal,
		DeliveryFee: DeliveryFee,
		HandlingFee: handling,
		GrandTotal:  subtotal.Add(DeliveryFee).Add(handling),
	}
}

// FitsMinorUnits сообщает, помещается ли сумма в минимальных единицах в int64.
func FitsMinorUnits(amount decimal.Decimal) bool {
	return amount.Mul(minorUnitsPerUnit).Round(0).LessThanOrEqual(maxMinorUnits)
}

// MinorUnits переводит сумму в минимальные единицы валюты (копейки, пайсы) для платёжного шлюза.
// Сумму, для которой FitsMinorUnits ложно, передавать нельзя.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitsPerUnit).Round(0).IntPart()
}
