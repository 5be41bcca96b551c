package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/model"
)

var (
	orderSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "order_submissions_total",
		Help:      "Order submissions by payment method and result.",
	}, []string{"method", "result"})

	paymentVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "payment_verifications_total",
		Help:      "Gateway callback verifications by result.",
	}, []string{"result"})

	reconciliationRequired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "payment_reconciliation_required_total",
		Help:      "Payments captured by the gateway that could not be recorded.",
	})
)

func resultLabel(result string, err error) string {
	if err != nil {
		return apperr.Kind(err)
	}
	return result
}

func countSubmission(method model.PaymentMethod, result string, err error) {
	m := string(method)
	if !method.Valid() {
		m = "unknown"
	}
	orderSubmissions.WithLabelValues(m, resultLabel(result, err)).Inc()
}

func countVerification(result string, err error) {
	paymentVerifications.WithLabelValues(resultLabel(result, err)).Inc()
}
