package service

import (
	"context"
	"fmt"
	"time"

	"payments-webhook/config"
	"payments-webhook/internal/models"
	"payments-webhook/internal/util"

	"go.uber.org/zap"
)

// IdempotencyStore is the shared key-value store behind the ledger.
// ClaimKey must be atomic across every instance of the service.
type IdempotencyStore interface {
	ClaimKey(ctx context.Context, key string, ttl time.Duration) (models.ClaimState, error)
	SetKey(ctx context.Context, key string, value string, ttl time.Duration) error
	DeleteKey(ctx context.Context, key string) error
}

// DedupKey builds the ledger key for one status transition of one event
func DedupKey(provider, eventID, status string) string {
	return fmt.Sprintf("webhook:%s:%s:%s", provider, eventID, status)
}

// IdempotencyLedger tracks absent -> processing -> processed per dedup key
type IdempotencyLedger struct {
	store         IdempotencyStore
	processingTTL time.Duration
	processedTTL  time.Duration
	logger        *zap.Logger
}

// NewIdempotencyLedger creates a ledger over store
func NewIdempotencyLedger(store IdempotencyStore, cfg config.LedgerConfig) *IdempotencyLedger {
	return &IdempotencyLedger{
		store:         store,
		processingTTL: time.Duration(cfg.ProcessingTTLSeconds) * time.Second,
		processedTTL:  time.Duration(cfg.ProcessedTTLSeconds) * time.Second,
		logger:        util.GetLogger(),
	}
}

// Claim returns ClaimFree when the caller now holds key in processing
// state. ClaimProcessing and ClaimProcessed mean someone else does or did.
func (l *IdempotencyLedger) Claim(ctx context.Context, key string) (models.ClaimState, error) {
	ctx, span := util.StartSpan(ctx, "IdempotencyLedger.Claim")
	defer span.End()

	state, err := l.store.ClaimKey(ctx, key, l.processingTTL)
	if err != nil {
		return "", fmt.Errorf("failed to claim %s: %w", key, err)
	}

	util.LedgerClaimsTotal.WithLabelValues(string(state)).Inc()
	return state, nil
}

// Commit marks key processed for the long TTL
func (l *IdempotencyLedger) Commit(ctx context.Context, key string) error {
	ctx, span := util.StartSpan(ctx, "IdempotencyLedger.Commit")
	defer span.End()

	if err := l.store.SetKey(ctx, key, string(models.ClaimProcessed), l.processedTTL); err != nil {
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

// Release deletes key so the next delivery can claim it again. Failures are
// logged only; the processing TTL still frees the key.
func (l *IdempotencyLedger) Release(ctx context.Context, key string) {
	ctx, span := util.StartSpan(ctx, "IdempotencyLedger.Release")
	defer span.End()

	if err := l.store.DeleteKey(ctx, key); err != nil {
		l.logger.Error("Failed to release idempotency key",
			zap.String("dedup_key", key),
			zap.Error(err))
	}
}
