package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_received_total",
		Help: "Total number of payment webhooks received",
	}, []string{"provider"})

	WebhookOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_outcomes_total",
		Help: "Total number of payment webhooks by outcome",
	}, []string{"provider", "outcome"})

	SignatureFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_signature_failures_total",
		Help: "Total number of rejected or unverifiable webhook signatures",
	}, []string{"reason"})

	ReconciliationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_failures_total",
		Help: "Total number of failed reconciliations",
	}, []string{"stage"})

	LedgerClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_ledger_claims_total",
		Help: "Total number of idempotency ledger claims by observed state",
	}, []string{"state"})

	GatewayFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_gateway_fetch_latency_seconds",
		Help:    "Latency of payment detail fetches from the gateway",
		Buckets: prometheus.DefBuckets,
	})

	ReconciliationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_reconciliation_latency_seconds",
		Help:    "Latency of webhook reconciliation",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	DeadLetterReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_dlq_replays_total",
		Help: "Total number of dead-letter replays by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
