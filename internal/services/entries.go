package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"contas/internal/core"
	"contas/internal/storage"
)

// ExpenseInput carries the user-supplied fields of a new expense.
type ExpenseInput struct {
	Name        string
	Amount      decimal.Decimal
	DueDate     core.Date
	Installment *core.Installment
	Recurring   bool
}

// IncomeInput carries the user-supplied fields of a new income.
type IncomeInput struct {
	Name      string
	Amount    decimal.Decimal
	OccursOn  *core.Date
	Recurring bool
}

// EntryService handles user-driven changes to the ledger. Writes that affect
// what the next period inherits trigger a replication request when a
// requester is configured.
type EntryService struct {
	store     storage.Store
	requester ReplicationRequester
	reports   *InstallmentAggregator

	now   func() time.Time
	newID func() string
}

// NewEntryService returns the service. requester and reports may be nil.
func NewEntryService(store storage.Store, requester ReplicationRequester, reports *InstallmentAggregator) *EntryService {
	return &EntryService{
		store:     store,
		requester: requester,
		reports:   reports,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (s *EntryService) CreateExpense(ctx context.Context, ownerID string, p core.Period, in ExpenseInput) (core.Expense, error) {
	e := s.newExpense(ownerID, p, in)
	if err := e.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertExpenses(ctx, []core.Expense{e})
		return err
	})
	if err != nil {
		return core.Expense{}, storeFailure("create expense", err)
	}

	slog.InfoContext(ctx, "Expense created",
		"owner_id", ownerID,
		"period", p.String(),
		"id", e.ID,
		"installment", installmentAttr(e.Installment))
	s.afterExpenseWrite(ctx, e)
	return e, nil
}

// CreateInstallmentPlan creates every remaining installment of a purchase at
// once: index k in p, k+1 in the following period, up to the total. Entries
// already present at their position are left alone.
func (s *EntryService) CreateInstallmentPlan(ctx context.Context, ownerID string, p core.Period, in ExpenseInput) ([]core.Expense, error) {
	if in.Installment == nil {
		return nil, fmt.Errorf("create installment plan: %w: installment required", core.ErrInvalidInstallment)
	}
	first := s.newExpense(ownerID, p, in)
	if err := first.Validate(); err != nil {
		return nil, fmt.Errorf("create installment plan: %w", err)
	}

	start := *in.Installment
	var created []core.Expense
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		created = created[:0]
		for idx := start.Index; idx <= start.Total; idx++ {
			target := p.Add(idx - start.Index)
			inst := core.Installment{Index: idx, Total: start.Total}

			exists, err := tx.InstallmentExists(ctx, ownerID, target, in.Name, inst)
			if err != nil {
				return fmt.Errorf("check installment %s: %w", inst, err)
			}
			if exists {
				continue
			}

			e := first
			e.ID = s.newID()
			e.Period = target
			e.DueDate = core.ProjectDay(in.DueDate, target)
			e.Installment = &inst
			created = append(created, e)
		}
		if len(created) == 0 {
			return nil
		}
		_, err := tx.InsertExpenses(ctx, created)
		return err
	})
	if err != nil {
		return nil, storeFailure("create installment plan", err)
	}

	slog.InfoContext(ctx, "Installment plan created",
		"owner_id", ownerID,
		"name", in.Name,
		"first_period", p.String(),
		"created", len(created))
	s.reports.Invalidate(ownerID)
	return created, nil
}

func (s *EntryService) UpdateExpense(ctx context.Context, ownerID, id string, patch core.ExpensePatch) (core.Expense, error) {
	var updated core.Expense
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetExpense(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if patch.Empty() {
			updated = current
			return nil
		}
		if patch.Status != nil && !current.Status.SettableTo(*patch.Status) {
			return fmt.Errorf("%w: %s to %s", core.ErrInvalidStatus, current.Status, *patch.Status)
		}
		updated = patch.Apply(current)
		updated.UpdatedAt = s.now().UTC()
		if err := updated.Validate(); err != nil {
			return err
		}
		return tx.UpdateExpense(ctx, updated)
	})
	if err != nil {
		return core.Expense{}, storeFailure("update expense "+id, err)
	}
	if !patch.Empty() {
		s.afterExpenseWrite(ctx, updated)
	}
	return updated, nil
}

// DuplicateExpense copies an expense into the same period as a new pending
// entry with no lineage.
func (s *EntryService) DuplicateExpense(ctx context.Context, ownerID, id string) (core.Expense, error) {
	var dup core.Expense
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		src, err := tx.GetExpense(ctx, ownerID, id)
		if err != nil {
			return err
		}
		dup = s.newExpense(ownerID, src.Period, ExpenseInput{
			Name:        src.Name,
			Amount:      src.Amount,
			DueDate:     src.DueDate,
			Installment: src.Installment,
			Recurring:   src.Recurring,
		})
		_, err = tx.InsertExpenses(ctx, []core.Expense{dup})
		return err
	})
	if err != nil {
		return core.Expense{}, storeFailure("duplicate expense "+id, err)
	}
	s.afterExpenseWrite(ctx, dup)
	return dup, nil
}

// DeleteExpense removes an expense, or with wholeSequence every expense of
// its installment sequence. Replicas derived from deleted entries stay.
func (s *EntryService) DeleteExpense(ctx context.Context, ownerID, id string, wholeSequence bool) (int, error) {
	var deleted int
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		e, err := tx.GetExpense(ctx, ownerID, id)
		if err != nil {
			return err
		}
		ids := []string{e.ID}
		if wholeSequence && e.Installment != nil {
			seq, err := tx.ListInstallmentSequence(ctx, ownerID, e.Name, e.Installment.Total)
			if err != nil {
				return fmt.Errorf("list sequence: %w", err)
			}
			ids = ids[:0]
			for _, member := range seq {
				ids = append(ids, member.ID)
			}
		}
		if err := tx.DeleteExpenses(ctx, ownerID, ids); err != nil {
			return err
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, storeFailure("delete expense "+id, err)
	}

	slog.InfoContext(ctx, "Expense deleted",
		"owner_id", ownerID,
		"id", id,
		"whole_sequence", wholeSequence,
		"deleted", deleted)
	s.reports.Invalidate(ownerID)
	return deleted, nil
}

func (s *EntryService) CreateIncome(ctx context.Context, ownerID string, p core.Period, in IncomeInput) (core.Income, error) {
	now := s.now().UTC()
	inc := core.Income{
		ID:        s.newID(),
		OwnerID:   ownerID,
		Period:    p,
		Name:      in.Name,
		Amount:    in.Amount,
		OccursOn:  in.OccursOn,
		Recurring: in.Recurring,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := inc.Validate(); err != nil {
		return core.Income{}, fmt.Errorf("create income: %w", err)
	}

	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertIncomes(ctx, []core.Income{inc})
		return err
	})
	if err != nil {
		return core.Income{}, storeFailure("create income", err)
	}

	slog.InfoContext(ctx, "Income created", "owner_id", ownerID, "period", p.String(), "id", inc.ID)
	if inc.Recurring {
		s.requestReplication(ctx, ownerID, p.Next())
	}
	return inc, nil
}

func (s *EntryService) UpdateIncome(ctx context.Context, ownerID, id string, patch core.IncomePatch) (core.Income, error) {
	var updated core.Income
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetIncome(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if patch.Empty() {
			updated = current
			return nil
		}
		updated = patch.Apply(current)
		updated.UpdatedAt = s.now().UTC()
		if err := updated.Validate(); err != nil {
			return err
		}
		return tx.UpdateIncome(ctx, updated)
	})
	if err != nil {
		return core.Income{}, storeFailure("update income "+id, err)
	}
	if !patch.Empty() && updated.Recurring {
		s.requestReplication(ctx, ownerID, updated.Period.Next())
	}
	return updated, nil
}

func (s *EntryService) DeleteIncome(ctx context.Context, ownerID, id string) error {
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteIncome(ctx, ownerID, id)
	})
	if err != nil {
		return storeFailure("delete income "+id, err)
	}
	slog.InfoContext(ctx, "Income deleted", "owner_id", ownerID, "id", id)
	return nil
}

func (s *EntryService) newExpense(ownerID string, p core.Period, in ExpenseInput) core.Expense {
	now := s.now().UTC()
	e := core.Expense{
		ID:        s.newID(),
		OwnerID:   ownerID,
		Period:    p,
		Name:      in.Name,
		Amount:    in.Amount,
		DueDate:   in.DueDate,
		Recurring: in.Recurring,
		Status:    core.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Installment != nil {
		inst := *in.Installment
		e.Installment = &inst
	}
	return e
}

// afterExpenseWrite refreshes derived state once e has been stored. The
// report is dropped unconditionally since the previous version of e may
// have belonged to a purchase.
func (s *EntryService) afterExpenseWrite(ctx context.Context, e core.Expense) {
	s.reports.Invalidate(e.OwnerID)
	if carriesOver(e) {
		s.requestReplication(ctx, e.OwnerID, e.Period.Next())
	}
}

// carriesOver reports whether e produces a replica in the next period.
func carriesOver(e core.Expense) bool {
	if e.Installment != nil {
		return !e.Installment.Terminal()
	}
	return e.Recurring
}

func (s *EntryService) requestReplication(ctx context.Context, ownerID string, p core.Period) {
	if s.requester == nil {
		return
	}
	if err := s.requester.PublishReplicationRequest(ctx, ownerID, p); err != nil {
		slog.ErrorContext(ctx, "Failed to publish replication request",
			"owner_id", ownerID,
			"period", p.String(),
			"error", err)
	}
}

func installmentAttr(inst *core.Installment) string {
	if inst == nil {
		return ""
	}
	return inst.String()
}
