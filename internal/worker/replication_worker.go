// Package worker runs replication outside the request path: on demand from
// queued requests and periodically as a sweep over all owners.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contas/internal/amqp"
	"contas/internal/core"
	"contas/internal/services"
)

// Replicator materializes one period for one owner.
type Replicator interface {
	Replicate(ctx context.Context, ownerID string, target core.Period) (services.ReplicationResult, error)
}

// Sweeper materializes the current period for every active owner.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (services.SweepResult, error)
}

type ReplicationWorker struct {
	engine   Replicator
	sweeper  Sweeper
	reports  services.ReportInvalidator
	interval time.Duration
	now      func() time.Time
}

// NewReplicationWorker returns a worker. reports, when not nil, is told about
// owners whose ledger a queued request changed.
func NewReplicationWorker(engine Replicator, sweeper Sweeper, reports services.ReportInvalidator, interval time.Duration) *ReplicationWorker {
	return &ReplicationWorker{
		engine:   engine,
		sweeper:  sweeper,
		reports:  reports,
		interval: interval,
		now:      time.Now,
	}
}

// HandleReplicationRequest processes one queued request. Requests that can
// never succeed are reported as amqp.ErrMalformed so they are not requeued.
func (w *ReplicationWorker) HandleReplicationRequest(ctx context.Context, msg *amqp.ReplicationRequest) error {
	p, err := msg.Period()
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Processing replication request",
		"owner_id", msg.OwnerID,
		"period", p.String(),
		"requested_at", msg.Timestamp)

	res, err := w.engine.Replicate(ctx, msg.OwnerID, p)
	switch {
	case err == nil:
	case core.IsValidationError(err):
		return fmt.Errorf("%w: %w", amqp.ErrMalformed, err)
	default:
		return fmt.Errorf("replicate %s for %s: %w", p, msg.OwnerID, err)
	}

	if w.reports != nil && res.Generated() {
		w.reports.Invalidate(msg.OwnerID)
	}

	slog.InfoContext(ctx, "Replication request complete",
		"owner_id", msg.OwnerID,
		"period", p.String(),
		"expenses_generated", res.Expenses,
		"incomes_generated", res.Incomes)
	return nil
}

// RunSweep performs one sweep at the current time.
func (w *ReplicationWorker) RunSweep(ctx context.Context) (services.SweepResult, error) {
	start := w.now()
	res, err := w.sweeper.Sweep(ctx, start)
	if err != nil {
		return res, fmt.Errorf("sweep: %w", err)
	}

	level := slog.LevelInfo
	if res.Failed > 0 {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "Replication sweep complete",
		"period", res.Period.String(),
		"owners", res.Owners,
		"generated", res.Generated,
		"promoted", res.Promoted,
		"failed", res.Failed,
		"duration_ms", w.now().Sub(start).Milliseconds())
	return res, nil
}

// RunSweepLoop sweeps on every tick until ctx ends, and once immediately
// when runOnStart is set.
func (w *ReplicationWorker) RunSweepLoop(ctx context.Context, runOnStart bool) error {
	if w.interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if runOnStart {
		if _, err := w.RunSweep(ctx); err != nil {
			slog.ErrorContext(ctx, "Initial sweep failed", "error", err)
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RunSweep(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic sweep failed", "error", err)
			}
		}
	}
}
