package worker

import (
	"context"
	"log/slog"
	"time"

	"contas/internal/amqp"
	"contas/internal/services"
)

const broadcastTimeout = 5 * time.Second

// InvalidationPublisher broadcasts report invalidations to API processes.
type InvalidationPublisher interface {
	PublishReportInvalidation(ctx context.Context, ownerID string) error
}

// ReportBroadcast satisfies services.ReportInvalidator from outside the API
// process by publishing the invalidation. Failures are logged; the report
// then expires with the cache TTL.
type ReportBroadcast struct {
	pub InvalidationPublisher
}

func NewReportBroadcast(pub InvalidationPublisher) *ReportBroadcast {
	return &ReportBroadcast{pub: pub}
}

func (b *ReportBroadcast) Invalidate(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	if err := b.pub.PublishReportInvalidation(ctx, ownerID); err != nil {
		slog.Warn("Failed to broadcast report invalidation",
			"owner_id", ownerID,
			"error", err)
	}
}

// InvalidationHandler applies broadcast invalidations to the local reports.
func InvalidationHandler(reports services.ReportInvalidator) func(context.Context, *amqp.ReportInvalidation) error {
	return func(ctx context.Context, msg *amqp.ReportInvalidation) error {
		reports.Invalidate(msg.OwnerID)
		slog.DebugContext(ctx, "Installment report invalidated", "owner_id", msg.OwnerID)
		return nil
	}
}
