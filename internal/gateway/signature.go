package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign вычисляет подпись шлюза: HMAC-SHA256 от "orderID|paymentID" в нижнем регистре hex.
func Sign(gatewayOrderID, gatewayPaymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback проверяет подпись колбэка оплаты. Сравнение выполняется за постоянное время
// по hex-строке целиком, поэтому подпись в другом регистре тоже отклоняется.
// Любое несовпадение, включая пустые значения, даёт false.
func VerifyCallback(gatewayOrderID, gatewayPaymentID, signature, sharedSecret string) bool {
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" || sharedSecret == "" {
		return false
	}

	expected := Sign(gatewayOrderID, gatewayPaymentID, sharedSecret)
	return hmac.Equal([]byte(signature), []byte(expected))
}
