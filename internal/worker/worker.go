package worker

import (
	"context"
	"time"

	"payments-webhook/config"
	"payments-webhook/internal/broker"
	"payments-webhook/internal/models"
	"payments-webhook/internal/service"
	"payments-webhook/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxBackoff = 24 * time.Hour
	// deferHold is the longest a single unripe entry blocks the partition
	deferHold = time.Second
)

// Replayer is implemented by service.Reconciler
type Replayer interface {
	Replay(ctx context.Context, ev models.WebhookEvent) (*service.Result, error)
}

// DeadLetterPublisher is implemented by broker.EventPublisher
type DeadLetterPublisher interface {
	PublishWebhookDeadLetter(ctx context.Context, event *models.WebhookDeadLetterEvent) error
}

// DeadLetterWorker replays webhooks that failed with a transient error
type DeadLetterWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	replayer     Replayer
	publisher    DeadLetterPublisher
	maxAttempts  int
	backoff      time.Duration
	hold         time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewDeadLetterWorker creates a new dead-letter worker. consumer may be nil
// when the worker is only driven through HandleDeadLetter.
func NewDeadLetterWorker(
	consumer *broker.Consumer,
	replayer Replayer,
	publisher DeadLetterPublisher,
	cfg config.KafkaConfig,
) *DeadLetterWorker {
	w := &DeadLetterWorker{
		consumer:    consumer,
		replayer:    replayer,
		publisher:   publisher,
		maxAttempts: cfg.DeadLetterMaxAttempts,
		backoff:     time.Duration(cfg.DeadLetterBackoffSecs) * time.Second,
		hold:        deferHold,
		now:         time.Now,
		logger:      util.GetLogger().With(zap.String("worker", "dead_letter")),
	}

	w.eventHandler = broker.NewEventHandler()
	w.eventHandler.OnWebhookDeadLetter(w.HandleDeadLetter)
	return w
}

// Start starts the worker
func (w *DeadLetterWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting dead-letter worker", zap.Int("max_attempts", w.maxAttempts))
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DeadLetterWorker) Stop() error {
	w.logger.Info("Stopping dead-letter worker")
	return w.consumer.Close()
}

// HandleDeadLetter replays one dead-lettered webhook. An entry whose retry
// time is still ahead is deferred to the back of the topic. It returns an
// error only when the event could not be requeued; the consumer then retries
// the message without committing it.
func (w *DeadLetterWorker) HandleDeadLetter(ctx context.Context, event *models.WebhookDeadLetterEvent) error {
	logger := w.logger.With(
		zap.String("event_id", event.EventID),
		zap.String("provider", event.Provider),
		zap.Int("attempt", event.Attempt))

	ev := event.WebhookEvent()
	if ev == nil {
		logger.Warn("Dead letter carries no webhook, discarding")
		util.DeadLetterReplaysTotal.WithLabelValues("discarded").Inc()
		return nil
	}

	wait := w.untilRetry(event)
	if wait > w.hold {
		return w.deferEntry(ctx, event, logger)
	}
	if err := sleepCtx(ctx, wait); err != nil {
		return err
	}

	res, err := w.replayer.Replay(ctx, ev)
	if err == nil {
		logger.Info("Dead letter replayed", zap.String("outcome", string(res.Outcome)))
		util.DeadLetterReplaysTotal.WithLabelValues("succeeded").Inc()
		return nil
	}

	if event.Attempt >= w.maxAttempts {
		logger.Error("Dead letter exhausted its attempts", zap.Error(err))
		util.DeadLetterReplaysTotal.WithLabelValues("exhausted").Inc()
		return nil
	}

	next := &models.WebhookDeadLetterEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeWebhookDeadLetter,
			Timestamp: w.now(),
		},
		Provider:    event.Provider,
		Mock:        event.Mock,
		Gateway:     event.Gateway,
		Error:       err.Error(),
		Attempt:     event.Attempt + 1,
		NextRetryAt: w.now().Add(w.delay(event.Attempt)),
	}
	if pubErr := w.publisher.PublishWebhookDeadLetter(ctx, next); pubErr != nil {
		logger.Error("Failed to requeue dead letter", zap.Error(pubErr))
		return pubErr
	}

	logger.Warn("Dead letter replay failed, requeued",
		zap.Time("next_retry_at", next.NextRetryAt),
		zap.Error(err))
	util.DeadLetterReplaysTotal.WithLabelValues("requeued").Inc()
	return nil
}

// delay doubles the base backoff for every attempt already made
func (w *DeadLetterWorker) delay(attempt int) time.Duration {
	d := w.backoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// untilRetry is how long event must still wait before it is replayed
func (w *DeadLetterWorker) untilRetry(event *models.WebhookDeadLetterEvent) time.Duration {
	if event.NextRetryAt.IsZero() {
		return 0
	}
	if wait := event.NextRetryAt.Sub(w.now()); wait > 0 {
		return wait
	}
	return 0
}

// deferEntry moves an unripe entry to the back of the topic unchanged, so
// ripe entries behind it are not held up until its retry time.
func (w *DeadLetterWorker) deferEntry(ctx context.Context, event *models.WebhookDeadLetterEvent, logger *zap.Logger) error {
	if err := sleepCtx(ctx, w.hold); err != nil {
		return err
	}
	if err := w.publisher.PublishWebhookDeadLetter(ctx, event); err != nil {
		logger.Error("Failed to defer dead letter", zap.Error(err))
		return err
	}
	util.DeadLetterReplaysTotal.WithLabelValues("deferred").Inc()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
