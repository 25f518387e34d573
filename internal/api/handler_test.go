package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"payments-webhook/internal/models"
	"payments-webhook/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	events []models.WebhookEvent
	result *service.Result
	err    error
}

func (s *stubProcessor) Process(_ context.Context, ev models.WebhookEvent) (*service.Result, error) {
	s.events = append(s.events, ev)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &service.Result{Outcome: service.OutcomeProcessed, Message: "ok"}, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func setupRouter(processor Processor, deps map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(processor, deps).SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookGetReturnsStatus(t *testing.T) {
	router := setupRouter(&stubProcessor{}, nil)

	w := doRequest(router, http.MethodGet, "/webhooks/payments", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestMockWebhook(t *testing.T) {
	processor := &stubProcessor{}
	router := setupRouter(processor, nil)

	w := doRequest(router, http.MethodPost, "/webhooks/payments",
		`{"provider":"mock","booking_id":"b1","status":"approved"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, processor.events, 1)
	assert.Equal(t, models.MockEvent{BookingID: "b1", Status: "approved"}, processor.events[0])
}

func TestMockWebhookValidation(t *testing.T) {
	bodies := []string{
		`{"provider":"mock","status":"approved"}`,
		`{"provider":"mock","booking_id":"b1"}`,
		`{"provider":"mock","booking_id":"b1","status":"refunded"}`,
	}

	for _, body := range bodies {
		processor := &stubProcessor{}
		w := doRequest(setupRouter(processor, nil), http.MethodPost, "/webhooks/payments", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Empty(t, processor.events, body)
	}
}

func TestGatewayWebhookShapes(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		want   models.GatewayEvent
	}{
		{
			name:   "numeric data id",
			target: "/webhooks/payments",
			body:   `{"action":"payment.updated","type":"payment","data":{"id":123456}}`,
			want:   models.GatewayEvent{PaymentID: "123456", Type: "payment", Action: "payment.updated"},
		},
		{
			name:   "string data id",
			target: "/webhooks/payments",
			body:   `{"type":"payment","data":{"id":"987"}}`,
			want:   models.GatewayEvent{PaymentID: "987", Type: "payment"},
		},
		{
			name:   "query only",
			target: "/webhooks/payments?data.id=555&type=payment",
			body:   "",
			want:   models.GatewayEvent{PaymentID: "555", Type: "payment"},
		},
		{
			name:   "legacy topic and id",
			target: "/webhooks/payments?id=777&topic=payment",
			body:   "{}",
			want:   models.GatewayEvent{PaymentID: "777", Type: "payment"},
		},
		{
			name:   "body wins over query",
			target: "/webhooks/payments?data.id=1",
			body:   `{"type":"payment","data":{"id":"2"}}`,
			want:   models.GatewayEvent{PaymentID: "2", Type: "payment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &stubProcessor{}
			w := doRequest(setupRouter(processor, nil), http.MethodPost, tt.target, tt.body, nil)

			assert.Equal(t, http.StatusOK, w.Code)
			require.Len(t, processor.events, 1)
			assert.Equal(t, tt.want, processor.events[0])
		})
	}
}

func TestWebhookBodyTooLarge(t *testing.T) {
	processor := &stubProcessor{}
	router := setupRouter(processor, nil)

	body := `{"type":"payment","data":{"id":"1"},"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	w := doRequest(router, http.MethodPost, "/webhooks/payments", body, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, processor.events)
}

func TestGatewayWebhookHeaders(t *testing.T) {
	processor := &stubProcessor{}
	router := setupRouter(processor, nil)

	doRequest(router, http.MethodPost, "/webhooks/payments", `{"type":"payment","data":{"id":"1"}}`,
		map[string]string{"x-signature": "ts=1,v1=ab", "x-request-id": "req-1"})

	require.Len(t, processor.events, 1)
	ev := processor.events[0].(models.GatewayEvent)
	assert.Equal(t, "ts=1,v1=ab", ev.Signature)
	assert.Equal(t, "req-1", ev.RequestID)
}

func TestGatewayWebhookRejected(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		code   int
	}{
		{"non payment type", "/webhooks/payments", `{"type":"merchant_order","data":{"id":"1"}}`, http.StatusOK},
		{"missing id", "/webhooks/payments", `{"type":"payment"}`, http.StatusBadRequest},
		{"malformed json", "/webhooks/payments", `{"type":`, http.StatusBadRequest},
		{"unknown provider", "/webhooks/payments", `{"provider":"stripe","data":{"id":"1"}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &stubProcessor{}
			w := doRequest(setupRouter(processor, nil), http.MethodPost, tt.target, tt.body, nil)
			assert.Equal(t, tt.code, w.Code)
			assert.Empty(t, processor.events)
		})
	}
}

func TestWebhookStatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		processor *stubProcessor
		code      int
	}{
		{"processed", &stubProcessor{}, http.StatusOK},
		{"already processed", &stubProcessor{result: &service.Result{Outcome: service.OutcomeAlreadyProcessed}}, http.StatusOK},
		{"ignored", &stubProcessor{result: &service.Result{Outcome: service.OutcomeIgnored}}, http.StatusOK},
		{"in progress", &stubProcessor{result: &service.Result{Outcome: service.OutcomeInProgress}}, http.StatusAccepted},
		{"bad signature", &stubProcessor{err: service.ErrInvalidSignature}, http.StatusUnauthorized},
		{"missing signature", &stubProcessor{err: service.ErrMissingSignature}, http.StatusUnauthorized},
		{"downstream failure", &stubProcessor{err: errors.New("connection reset")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(setupRouter(tt.processor, nil), http.MethodPost, "/webhooks/payments",
				`{"type":"payment","data":{"id":"42"}}`, nil)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestUnknownRoutes(t *testing.T) {
	router := setupRouter(&stubProcessor{}, nil)

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodPut, "/webhooks/payments", "{}", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodPost, "/webhooks/other", "{}", nil).Code)
}

func TestReadiness(t *testing.T) {
	ok := setupRouter(&stubProcessor{}, map[string]Pinger{"redis": stubPinger{}, "postgres": stubPinger{}})
	assert.Equal(t, http.StatusOK, doRequest(ok, http.MethodGet, "/ready", "", nil).Code)

	down := setupRouter(&stubProcessor{}, map[string]Pinger{"redis": stubPinger{err: errors.New("dial tcp: refused")}})
	w := doRequest(down, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}
