package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront/internal/apperr"
)

func TestCreateRemoteOrder_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key_public", user)
		assert.Equal(t, "key_secret", pass)

		var req createOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(20500), req.Amount)
		assert.Equal(t, "INR", req.Currency)
		assert.Equal(t, "ORD-1", req.Receipt)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RemoteOrder{
			ID:       "order_123",
			Amount:   req.Amount,
			Currency: req.Currency,
			Receipt:  req.Receipt,
			Status:   "created",
		})
	}))
	defer ts.Close()

	client := NewClient(Options{Provider: "card", BaseURL: ts.URL, KeyID: "key_public", KeySecret: "key_secret"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := client.CreateRemoteOrder(ctx, decimal.NewFromInt(205), "INR", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "order_123", res.ID)
	assert.Equal(t, int64(20500), res.Amount)
}

func TestCreateRemoteOrder_ServerErrorIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})

	_, err := client.CreateRemoteOrder(context.Background(), decimal.NewFromInt(10), "INR", "ORD-1")
	require.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
	assert.True(t, apperr.Retryable(err))
}

func TestCreateRemoteOrder_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	client := NewClient(Options{BaseURL: ts.URL, Timeout: 50 * time.Millisecond})

	_, err := client.CreateRemoteOrder(context.Background(), decimal.NewFromInt(10), "INR", "ORD-1")
	require.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
}

func TestCreateRemoteOrder_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	client := NewClient(Options{BaseURL: url, Timeout: time.Second})

	_, err := client.CreateRemoteOrder(context.Background(), decimal.NewFromInt(10), "INR", "ORD-1")
	require.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
}

func TestCreateRemoteOrder_BadRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"amount too small"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(Options{BaseURL: ts.URL})

	_, err := client.CreateRemoteOrder(context.Background(), decimal.NewFromInt(10), "INR", "ORD-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrGatewayUnavailable)
}

func TestCreateRemoteOrder_NotConfigured(t *testing.T) {
	client := NewClient(Options{})

	_, err := client.CreateRemoteOrder(context.Background(), decimal.NewFromInt(10), "INR", "ORD-1")
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
}
