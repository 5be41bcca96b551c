package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/storefront/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Metrics)
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{orderId}", h.GetOrder)
		r.Get("/orders/{orderId}/tracking", h.GetTracking)
		r.Post("/orders/{orderId}/cancel", h.CancelOrder)

		r.Route("/payment", func(r chi.Router) {
			r.Get("/config", h.PaymentConfig)
			r.Post("/create-order", h.CreatePaymentOrder)
			r.Post("/verify", h.VerifyPayment)
			r.Post("/cod-order", h.CreateCODOrder)
			r.Post("/retry", h.RetryPayment)
			r.Post("/abandon", h.AbandonPayment)
		})

		r.With(custommiddleware.RequireRole(custommiddleware.RoleAdmin)).
			Patch("/admin/orders/{orderId}/status", h.UpdateStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errorDetail{
			Kind:    "not_found",
			Message: http.StatusText(http.StatusNotFound),
		}})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: errorDetail{
			Kind:    "method_not_allowed",
			Message: http.StatusText(http.StatusMethodNotAllowed),
		}})
	})

	return r
}
