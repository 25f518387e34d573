package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payments-webhook/internal/models"
	"payments-webhook/internal/service"
	"payments-webhook/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a webhook body; real notifications are a few hundred bytes
const maxBodyBytes = 1 << 20

// Processor is implemented by service.Reconciler
type Processor interface {
	Process(ctx context.Context, ev models.WebhookEvent) (*service.Result, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	processor Processor
	deps      map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler. deps are checked by /ready.
func NewHandler(processor Processor, deps map[string]Pinger) *Handler {
	return &Handler{
		processor: processor,
		deps:      deps,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := router.Group("/webhooks")
	{
		webhooks.GET("/payments", h.webhookStatus)
		webhooks.POST("/payments", h.receiveWebhook)
	}

	router.HandleMethodNotAllowed = true
	router.NoRoute(notFound)
	router.NoMethod(notFound)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"errors": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// webhookStatus lets senders check the endpoint without side effects
func (h *Handler) webhookStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// webhookEnvelope accepts both the mock body and the gateway notification.
// data.id is a string or a number depending on the sender.
type webhookEnvelope struct {
	Provider  string          `json:"provider"`
	BookingID string          `json:"booking_id"`
	Status    string          `json:"status"`
	Action    string          `json:"action"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	ID        json.RawMessage `json:"id"`
	Data      struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// receiveWebhook decodes the delivery into a WebhookEvent and maps the
// reconciliation result onto a status code.
func (h *Handler) receiveWebhook(c *gin.Context) {
	var env webhookEnvelope
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	ev, status, msg := h.decodeEvent(c, &env)
	if ev == nil {
		c.JSON(status, gin.H{"message": msg})
		return
	}

	res, err := h.processor.Process(c.Request.Context(), ev)
	if err != nil {
		h.writeError(c, ev, err)
		return
	}

	switch res.Outcome {
	case service.OutcomeInProgress:
		c.JSON(http.StatusAccepted, res)
	default:
		c.JSON(http.StatusOK, res)
	}
}

// decodeEvent returns nil and the response to send when the delivery is not
// processable.
func (h *Handler) decodeEvent(c *gin.Context, env *webhookEnvelope) (models.WebhookEvent, int, string) {
	switch env.Provider {
	case models.ProviderMock:
		ev := models.MockEvent{BookingID: env.BookingID, Status: env.Status}
		if err := binding.Validator.ValidateStruct(&ev); err != nil {
			return nil, http.StatusBadRequest, "booking_id and status (approved|rejected) are required"
		}
		return ev, 0, ""

	case "", "gateway", models.ProviderMercadoPago:
		ev := models.GatewayEvent{
			PaymentID: firstNonEmpty(rawID(env.Data.ID), rawID(env.ID), c.Query("data.id"), c.Query("id")),
			Type:      firstNonEmpty(env.Type, env.Topic, c.Query("type"), c.Query("topic")),
			Action:    env.Action,
			Signature: c.GetHeader("x-signature"),
			RequestID: c.GetHeader("x-request-id"),
		}
		if ev.Type != "" && ev.Type != models.GatewayTypePayment {
			return nil, http.StatusOK, "Event type not supported"
		}
		if ev.PaymentID == "" {
			return nil, http.StatusBadRequest, "Payment id is required"
		}
		return ev, 0, ""
	}

	return nil, http.StatusBadRequest, "Unsupported provider"
}

func (h *Handler) writeError(c *gin.Context, ev models.WebhookEvent, err error) {
	if errors.Is(err, service.ErrInvalidSignature) || errors.Is(err, service.ErrMissingSignature) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	h.logger.Error("Webhook processing failed",
		zap.String("provider", ev.ProviderName()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}

// rawID reads a JSON string or number as text
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
