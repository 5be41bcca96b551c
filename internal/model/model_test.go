package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentDetailsRoundTripThroughStorage(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	card := CardPayment{GatewayPayment: GatewayPayment{
		Provider:         "card",
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_xyz",
		Signature:        "deadbeef",
		PaidAt:           &paidAt,
	}}

	data, err := EncodePaymentDetails(card)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "cvv")

	decoded, err := DecodePaymentDetails(PaymentMethodCard, data)
	require.NoError(t, err)
	assert.Equal(t, card, decoded)
}

func TestDecodePaymentDetails_COD(t *testing.T) {
	d, err := DecodePaymentDetails(PaymentMethodCOD, []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, PaymentMethodCOD, d.Method())

	_, ok := GatewayDetails(d)
	assert.False(t, ok)
}

func TestDecodePaymentDetails_UnknownMethod(t *testing.T) {
	_, err := DecodePaymentDetails("bitcoin", nil)
	assert.Error(t, err)
}

func TestOrderAwaitingPayment(t *testing.T) {
	cod := &Order{PaymentMethod: PaymentMethodCOD, PaymentDetails: CODPayment{}}
	assert.False(t, cod.AwaitingPayment())

	unpaid := &Order{
		PaymentMethod:  PaymentMethodAltWallet,
		PaymentDetails: WalletPayment{GatewayPayment: GatewayPayment{GatewayOrderID: "order_1"}},
	}
	assert.True(t, unpaid.AwaitingPayment())

	paid := &Order{
		PaymentMethod:  PaymentMethodCard,
		PaymentDetails: CardPayment{GatewayPayment: GatewayPayment{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1"}},
	}
	assert.False(t, paid.AwaitingPayment())
	assert.True(t, paid.Paid())
	assert.False(t, unpaid.Paid())
	assert.False(t, cod.Paid())
}

func TestGatewayPaymentHistory(t *testing.T) {
	g := GatewayPayment{Provider: "card", GatewayOrderID: "order_1"}

	g = g.Superseded("order_2")
	assert.Equal(t, "order_2", g.GatewayOrderID)
	assert.Equal(t, []string{"order_1"}, g.PreviousGatewayOrderIDs)

	g = g.Superseded("order_3")
	assert.Equal(t, []string{"order_1", "order_2"}, g.PreviousGatewayOrderIDs)

	assert.True(t, g.Issued("order_1"))
	assert.True(t, g.Issued("order_3"))
	assert.False(t, g.Issued("order_4"))
	assert.False(t, g.Issued(""))
}

func TestMergeGatewayHistory(t *testing.T) {
	stored := GatewayPayment{GatewayOrderID: "order_2", PreviousGatewayOrderIDs: []string{"order_1"}}

	// оплата по старому удалённому заказу, прочитанному до повторной попытки
	paid := GatewayPayment{GatewayOrderID: "order_1", GatewayPaymentID: "pay_1"}
	merged := MergeGatewayHistory(stored, paid)

	assert.Equal(t, "order_1", merged.GatewayOrderID)
	assert.Equal(t, "pay_1", merged.GatewayPaymentID)
	assert.Equal(t, []string{"order_2"}, merged.PreviousGatewayOrderIDs)

	same := MergeGatewayHistory(GatewayPayment{GatewayOrderID: "order_1"}, paid)
	assert.Nil(t, same.PreviousGatewayOrderIDs)
}
