package services

import (
	"context"
	"errors"
	"fmt"

	"contas/internal/core"
	"contas/internal/storage"
)

var (
	ErrNotFound = storage.ErrNotFound
	// ErrStoreUnavailable marks failures the caller may retry as is.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// Locker serializes replication of one (owner, period) across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// ReplicationRequester asks a worker to materialize a period for an owner.
type ReplicationRequester interface {
	PublishReplicationRequest(ctx context.Context, ownerID string, p core.Period) error
}

// ReportInvalidator drops whatever installment report is held for an owner.
// InstallmentAggregator implements it in the API process; the worker
// broadcasts instead.
type ReportInvalidator interface {
	Invalidate(ownerID string)
}

// ReportCache holds installment reports keyed by owner.
type ReportCache interface {
	Get(key string) (core.InstallmentReport, bool)
	Set(key string, report core.InstallmentReport)
	Delete(key string)
}

// storeFailure wraps err for op, tagging it retryable unless the caller
// caused it.
func storeFailure(op string, err error) error {
	if errors.Is(err, ErrNotFound) || core.IsValidationError(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
