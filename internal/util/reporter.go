package util

import (
	"context"

	"payments-webhook/internal/models"

	"go.uber.org/zap"
)

// Reporter is the production error sink: it logs, counts and marks the
// active span. It never fails.
type Reporter struct {
	logger *zap.Logger
}

// NewReporter creates a reporter writing to logger
func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{logger: logger}
}

// Report records a reconciliation failure
func (r *Reporter) Report(ctx context.Context, report models.ErrorReport) {
	ReconciliationFailuresTotal.WithLabelValues(report.Stage).Inc()

	if report.Err != nil {
		SpanError(ctx, report.Err)
	}

	r.logger.Error("Reconciliation failed",
		zap.String("stage", report.Stage),
		zap.String("provider", report.Provider),
		zap.String("payment_id", report.PaymentID),
		zap.String("booking_id", report.BookingID),
		zap.String("dedup_key", report.DedupKey),
		zap.Error(report.Err))
}
