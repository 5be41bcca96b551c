package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const secret = "whsec_test"

func TestVerifyCallback_Valid(t *testing.T) {
	sig := Sign("order_123", "pay_456", secret)

	assert.True(t, VerifyCallback("order_123", "pay_456", sig, secret))
	assert.True(t, NewClient(Options{KeySecret: secret}).VerifyCallback("order_123", "pay_456", sig))
}

func flipBit(s string, i int, bit byte) string {
	b := []byte(s)
	b[i] ^= bit
	return string(b)
}

func TestVerifyCallback_SingleBitMutations(t *testing.T) {
	orderID, paymentID := "order_123", "pay_456"
	sig := Sign(orderID, paymentID, secret)

	for i := range orderID {
		for bit := byte(1); bit != 0; bit <<= 1 {
			assert.False(t, VerifyCallback(flipBit(orderID, i, bit), paymentID, sig, secret), "order id byte %d bit %08b", i, bit)
		}
	}
	for i := range paymentID {
		for bit := byte(1); bit != 0; bit <<= 1 {
			assert.False(t, VerifyCallback(orderID, flipBit(paymentID, i, bit), sig, secret), "payment id byte %d bit %08b", i, bit)
		}
	}
	for i := range sig {
		for bit := byte(1); bit != 0; bit <<= 1 {
			mutated := flipBit(sig, i, bit)
			assert.False(t, VerifyCallback(orderID, paymentID, mutated, secret), "signature byte %d bit %08b", i, bit)
		}
	}
}

func TestVerifyCallback_Malformed(t *testing.T) {
	sig := Sign("order_123", "pay_456", secret)

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		secret    string
	}{
		{name: "not hex", orderID: "order_123", paymentID: "pay_456", signature: "zz" + sig[2:], secret: secret},
		{name: "truncated", orderID: "order_123", paymentID: "pay_456", signature: sig[:10], secret: secret},
		{name: "empty signature", orderID: "order_123", paymentID: "pay_456", signature: "", secret: secret},
		{name: "wrong secret", orderID: "order_123", paymentID: "pay_456", signature: sig, secret: "other"},
		{name: "empty secret", orderID: "order_123", paymentID: "pay_456", signature: Sign("order_123", "pay_456", ""), secret: ""},
		{name: "swapped ids", orderID: "pay_456", paymentID: "order_123", signature: sig, secret: secret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, VerifyCallback(tt.orderID, tt.paymentID, tt.signature, tt.secret))
		})
	}
}
