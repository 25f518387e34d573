package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"payments-webhook/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGatewayClient(t *testing.T, handler http.HandlerFunc) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewGatewayClient(config.GatewayConfig{
		BaseURL:        srv.URL,
		AccessToken:    "APP_USR-token",
		TimeoutSeconds: 5,
	})
}

func TestFetchPaymentDetail(t *testing.T) {
	client := newTestGatewayClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		assert.Equal(t, "Bearer APP_USR-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 123456,
			"status": "approved",
			"status_detail": "accredited",
			"external_reference": "booking-1",
			"transaction_amount": 150.5,
			"currency_id": "ARS",
			"metadata": {"booking_id": "booking-meta"}
		}`))
	})

	detail, err := client.FetchPaymentDetail(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), detail.ID)
	assert.Equal(t, "approved", detail.Status)
	assert.Equal(t, "booking-1", detail.ExternalReference)
	assert.Equal(t, "booking-meta", detail.Metadata.BookingID)
	assert.Equal(t, 150.5, detail.TransactionAmount)
}

func TestFetchPaymentDetailNotFound(t *testing.T) {
	client := newTestGatewayClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Payment not found"}`))
	})

	_, err := client.FetchPaymentDetail(context.Background(), "999")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestFetchPaymentDetailServerError(t *testing.T) {
	client := newTestGatewayClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchPaymentDetail(context.Background(), "1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPaymentNotFound)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchPaymentDetailBadBody(t *testing.T) {
	client := newTestGatewayClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := client.FetchPaymentDetail(context.Background(), "1")
	assert.ErrorContains(t, err, "decode")
}
