package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"payments-webhook/config"
	"payments-webhook/internal/models"
	"payments-webhook/internal/util"

	"go.uber.org/zap"
)

// ErrPaymentNotFound is returned when the gateway does not know a payment id
var ErrPaymentNotFound = errors.New("payment not found at gateway")

// GatewayClient fetches authoritative payment details from the gateway
type GatewayClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewGatewayClient creates a new gateway client
func NewGatewayClient(cfg config.GatewayConfig) *GatewayClient {
	return &GatewayClient{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: util.GetLogger(),
	}
}

// FetchPaymentDetail performs GET /v1/payments/{id}
func (gc *GatewayClient) FetchPaymentDetail(ctx context.Context, paymentID string) (*models.PaymentDetail, error) {
	ctx, span := util.StartSpan(ctx, "GatewayClient.FetchPaymentDetail")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayFetchLatency.Observe(time.Since(start).Seconds())
	}()

	endpoint := fmt.Sprintf("%s/v1/payments/%s", gc.baseURL, url.PathEscape(paymentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+gc.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := gc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		gc.logger.Warn("Gateway returned error status",
			zap.String("payment_id", paymentID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("gateway API error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var detail models.PaymentDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("failed to decode payment detail: %w", err)
	}

	return &detail, nil
}
