package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"contas/internal/core"
	"contas/internal/storage"
)

// ReplicationResult counts the entries materialized by one Replicate call.
type ReplicationResult struct {
	OwnerID  string
	Period   core.Period
	Expenses int
	Incomes  int
}

// Generated reports whether anything new was written.
func (r ReplicationResult) Generated() bool {
	return r.Expenses+r.Incomes > 0
}

// ReplicationEngine derives the entries of a period from the previous one.
//
// Each derived entry points at its source through OriginID and the store
// rejects a second entry for the same (owner, period, origin), so calling
// Replicate again only fills in what is missing. Concurrent calls for the
// same key are collapsed in-process, and across processes when a Locker is
// configured.
type ReplicationEngine struct {
	store  storage.Store
	locker Locker
	flight singleflight.Group

	now   func() time.Time
	newID func() string
}

func NewReplicationEngine(store storage.Store, locker Locker) *ReplicationEngine {
	return &ReplicationEngine{
		store:  store,
		locker: locker,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Replicate materializes in target every entry of the previous period that
// carries over and is not there yet.
func (e *ReplicationEngine) Replicate(ctx context.Context, ownerID string, target core.Period) (ReplicationResult, error) {
	if ownerID == "" {
		return ReplicationResult{}, core.ErrMissingOwner
	}
	if target.IsZero() {
		return ReplicationResult{}, fmt.Errorf("%w: zero period", core.ErrInvalidPeriod)
	}

	key := replicationKey(ownerID, target)
	// The batch outlives any single caller: others may be waiting on it.
	ch := e.flight.DoChan(key, func() (any, error) {
		return e.replicate(context.WithoutCancel(ctx), key, ownerID, target)
	})

	select {
	case <-ctx.Done():
		return ReplicationResult{OwnerID: ownerID, Period: target}, fmt.Errorf("replicate %s: %w", key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return ReplicationResult{OwnerID: ownerID, Period: target}, r.Err
		}
		if r.Shared {
			slog.DebugContext(ctx, "Replication shared with concurrent caller", "owner_id", ownerID, "period", target.String())
		}
		return r.Val.(ReplicationResult), nil
	}
}

func (e *ReplicationEngine) replicate(ctx context.Context, key, ownerID string, target core.Period) (ReplicationResult, error) {
	res := ReplicationResult{OwnerID: ownerID, Period: target}

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, key)
		if err != nil {
			return res, fmt.Errorf("replicate %s: acquire lock: %w: %w", key, ErrStoreUnavailable, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.WarnContext(ctx, "Failed to release replication lock", "key", key, "error", err)
			}
		}()
	}

	err := e.store.WithinTx(ctx, func(tx storage.Tx) error {
		expenses, incomes, err := e.plan(ctx, tx, ownerID, target)
		if err != nil {
			return err
		}
		if len(expenses) > 0 {
			n, err := tx.InsertExpenses(ctx, expenses)
			if err != nil {
				return fmt.Errorf("insert expenses: %w", err)
			}
			res.Expenses = n
		}
		if len(incomes) > 0 {
			n, err := tx.InsertIncomes(ctx, incomes)
			if err != nil {
				return fmt.Errorf("insert incomes: %w", err)
			}
			res.Incomes = n
		}
		return nil
	})
	if err != nil {
		return ReplicationResult{OwnerID: ownerID, Period: target}, storeFailure("replicate "+key, err)
	}

	if res.Generated() {
		slog.InfoContext(ctx, "Month replicated",
			"owner_id", ownerID,
			"period", target.String(),
			"expenses", res.Expenses,
			"incomes", res.Incomes)
	}
	return res, nil
}

// plan builds the replicas that target still lacks.
func (e *ReplicationEngine) plan(ctx context.Context, tx storage.Tx, ownerID string, target core.Period) ([]core.Expense, []core.Income, error) {
	source := target.Previous()

	srcExpenses, err := tx.ListExpenses(ctx, ownerID, source)
	if err != nil {
		return nil, nil, fmt.Errorf("list source expenses: %w", err)
	}
	srcIncomes, err := tx.ListIncomes(ctx, ownerID, source)
	if err != nil {
		return nil, nil, fmt.Errorf("list source incomes: %w", err)
	}
	if len(srcExpenses) == 0 && len(srcIncomes) == 0 {
		return nil, nil, nil
	}

	now := e.now().UTC()
	planned := make(map[installmentKey]struct{})

	var expenses []core.Expense
	for _, src := range srcExpenses {
		var next *core.Installment
		switch {
		case src.Installment != nil && src.Installment.Terminal():
			continue
		case src.Installment != nil:
			next = &core.Installment{Index: src.Installment.Index + 1, Total: src.Installment.Total}
		case !src.Recurring:
			continue
		}

		exists, err := tx.ExpenseReplicaExists(ctx, ownerID, target, src.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("check replica of %s: %w", src.ID, err)
		}
		if exists {
			continue
		}

		if next != nil {
			// Installments created upfront carry no origin, so match them by
			// position in the sequence as well.
			k := installmentKey{name: core.NormalizeName(src.Name), index: next.Index, total: next.Total}
			if _, dup := planned[k]; dup {
				continue
			}
			exists, err := tx.InstallmentExists(ctx, ownerID, target, src.Name, *next)
			if err != nil {
				return nil, nil, fmt.Errorf("check installment %s %s: %w", src.Name, next, err)
			}
			if exists {
				continue
			}
			planned[k] = struct{}{}
		}

		expenses = append(expenses, e.deriveExpense(src, target, next, now))
	}

	var incomes []core.Income
	for _, src := range srcIncomes {
		if !src.Recurring {
			continue
		}
		exists, err := tx.IncomeReplicaExists(ctx, ownerID, target, src.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("check replica of %s: %w", src.ID, err)
		}
		if exists {
			continue
		}
		incomes = append(incomes, e.deriveIncome(src, target, now))
	}

	return expenses, incomes, nil
}

func (e *ReplicationEngine) deriveExpense(src core.Expense, target core.Period, next *core.Installment, now time.Time) core.Expense {
	return core.Expense{
		ID:          e.newID(),
		OwnerID:     src.OwnerID,
		Period:      target,
		Name:        src.Name,
		Amount:      src.Amount,
		DueDate:     core.ProjectDay(src.DueDate, target),
		Installment: next,
		Recurring:   src.Recurring,
		Status:      core.StatusPending,
		OriginID:    src.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e *ReplicationEngine) deriveIncome(src core.Income, target core.Period, now time.Time) core.Income {
	inc := core.Income{
		ID:        e.newID(),
		OwnerID:   src.OwnerID,
		Period:    target,
		Name:      src.Name,
		Amount:    src.Amount,
		Recurring: true,
		OriginID:  src.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if src.OccursOn != nil {
		d := core.ProjectDay(*src.OccursOn, target)
		inc.OccursOn = &d
	}
	return inc
}

type installmentKey struct {
	name  string
	index int
	total int
}

func replicationKey(ownerID string, p core.Period) string {
	return "replicate:" + ownerID + ":" + p.String()
}
