// Package memory is a process-local ledger store used for development and
// tests. Transactions work on a copy of the state that replaces the live
// state only when the unit of work succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"contas/internal/core"
	"contas/internal/storage"
)

type Store struct {
	mu    sync.Mutex
	state *state
}

func New() *Store {
	return &Store{state: &state{}}
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&tx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) ListExpenses(ctx context.Context, ownerID string, p core.Period) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListExpenses(ctx, ownerID, p)
}

func (s *Store) ListIncomes(ctx context.Context, ownerID string, p core.Period) ([]core.Income, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListIncomes(ctx, ownerID, p)
}

func (s *Store) ListInstallmentExpenses(ctx context.Context, ownerID string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListInstallmentExpenses(ctx, ownerID)
}

func (s *Store) ListInstallmentSequence(ctx context.Context, ownerID, name string, total int) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListInstallmentSequence(ctx, ownerID, name, total)
}

func (s *Store) GetExpense(ctx context.Context, ownerID, id string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetExpense(ctx, ownerID, id)
}

func (s *Store) GetIncome(ctx context.Context, ownerID, id string) (core.Income, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetIncome(ctx, ownerID, id)
}

func (s *Store) ExpenseReplicaExists(ctx context.Context, ownerID string, p core.Period, originID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ExpenseReplicaExists(ctx, ownerID, p, originID)
}

func (s *Store) IncomeReplicaExists(ctx context.Context, ownerID string, p core.Period, originID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IncomeReplicaExists(ctx, ownerID, p, originID)
}

func (s *Store) InstallmentExists(ctx context.Context, ownerID string, p core.Period, name string, inst core.Installment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.InstallmentExists(ctx, ownerID, p, name, inst)
}

func (s *Store) ListOwnersWithEntries(ctx context.Context, p core.Period) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListOwnersWithEntries(ctx, p)
}

type state struct {
	expenses []core.Expense
	incomes  []core.Income
}

func (st *state) clone() *state {
	out := &state{
		expenses: make([]core.Expense, len(st.expenses)),
		incomes:  make([]core.Income, len(st.incomes)),
	}
	for i, e := range st.expenses {
		out.expenses[i] = copyExpense(e)
	}
	for i, inc := range st.incomes {
		out.incomes[i] = copyIncome(inc)
	}
	return out
}

func (st *state) ListExpenses(_ context.Context, ownerID string, p core.Period) ([]core.Expense, error) {
	var out []core.Expense
	for _, e := range st.expenses {
		if e.OwnerID == ownerID && e.Period == p {
			out = append(out, copyExpense(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (st *state) ListIncomes(_ context.Context, ownerID string, p core.Period) ([]core.Income, error) {
	var out []core.Income
	for _, inc := range st.incomes {
		if inc.OwnerID == ownerID && inc.Period == p {
			out = append(out, copyIncome(inc))
		}
	}
	return out, nil
}

func (st *state) ListInstallmentExpenses(_ context.Context, ownerID string) ([]core.Expense, error) {
	var out []core.Expense
	for _, e := range st.expenses {
		if e.OwnerID == ownerID && e.Installment != nil && e.Installment.Total > 1 {
			out = append(out, copyExpense(e))
		}
	}
	return out, nil
}

func (st *state) ListInstallmentSequence(_ context.Context, ownerID, name string, total int) ([]core.Expense, error) {
	key := core.NormalizeName(name)
	var out []core.Expense
	for _, e := range st.expenses {
		if e.OwnerID == ownerID && e.Installment != nil && e.Installment.Total == total &&
			core.NormalizeName(e.Name) == key {
			out = append(out, copyExpense(e))
		}
	}
	return out, nil
}

func (st *state) GetExpense(_ context.Context, ownerID, id string) (core.Expense, error) {
	for _, e := range st.expenses {
		if e.OwnerID == ownerID && e.ID == id {
			return copyExpense(e), nil
		}
	}
	return core.Expense{}, fmt.Errorf("expense %s: %w", id, storage.ErrNotFound)
}

func (st *state) GetIncome(_ context.Context, ownerID, id string) (core.Income, error) {
	for _, inc := range st.incomes {
		if inc.OwnerID == ownerID && inc.ID == id {
			return copyIncome(inc), nil
		}
	}
	return core.Income{}, fmt.Errorf("income %s: %w", id, storage.ErrNotFound)
}

func (st *state) ExpenseReplicaExists(_ context.Context, ownerID string, p core.Period, originID string) (bool, error) {
	for _, e := range st.expenses {
		if e.OwnerID == ownerID && e.Period == p && e.OriginID != "" && e.OriginID == originID {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) IncomeReplicaExists(_ context.Context, ownerID string, p core.Period, originID string) (bool, error) {
	for _, inc := range st.incomes {
		if inc.OwnerID == ownerID && inc.Period == p && inc.OriginID != "" && inc.OriginID == originID {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) InstallmentExists(_ context.Context, ownerID string, p core.Period, name string, inst core.Installment) (bool, error) {
	key := core.NormalizeName(name)
	for _, e := range st.expenses {
		if e.OwnerID == ownerID && e.Period == p && e.Installment != nil &&
			*e.Installment == inst && core.NormalizeName(e.Name) == key {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) ListOwnersWithEntries(_ context.Context, p core.Period) ([]string, error) {
	seen := make(map[string]struct{})
	for _, e := range st.expenses {
		if e.Period == p {
			seen[e.OwnerID] = struct{}{}
		}
	}
	for _, inc := range st.incomes {
		if inc.Period == p {
			seen[inc.OwnerID] = struct{}{}
		}
	}
	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

// tx mutates a private copy of the state.
type tx struct {
	*state
}

func (t *tx) InsertExpenses(_ context.Context, expenses []core.Expense) (int, error) {
	inserted := 0
	for _, e := range expenses {
		if t.hasExpenseID(e.ID) {
			return inserted, fmt.Errorf("insert expense %s: duplicate id", e.ID)
		}
		if e.OriginID != "" {
			if dup, _ := t.ExpenseReplicaExists(context.Background(), e.OwnerID, e.Period, e.OriginID); dup {
				continue
			}
		}
		t.expenses = append(t.expenses, copyExpense(e))
		inserted++
	}
	return inserted, nil
}

func (t *tx) InsertIncomes(_ context.Context, incomes []core.Income) (int, error) {
	inserted := 0
	for _, inc := range incomes {
		if t.hasIncomeID(inc.ID) {
			return inserted, fmt.Errorf("insert income %s: duplicate id", inc.ID)
		}
		if inc.OriginID != "" {
			if dup, _ := t.IncomeReplicaExists(context.Background(), inc.OwnerID, inc.Period, inc.OriginID); dup {
				continue
			}
		}
		t.incomes = append(t.incomes, copyIncome(inc))
		inserted++
	}
	return inserted, nil
}

func (t *tx) UpdateExpenseStatuses(_ context.Context, ownerID string, changes []core.StatusChange) error {
	for _, c := range changes {
		for i := range t.expenses {
			if t.expenses[i].OwnerID == ownerID && t.expenses[i].ID == c.ID {
				t.expenses[i].Status = c.Status
			}
		}
	}
	return nil
}

func (t *tx) UpdateExpense(_ context.Context, e core.Expense) error {
	for i := range t.expenses {
		if t.expenses[i].OwnerID == e.OwnerID && t.expenses[i].ID == e.ID {
			// Ownership, period and lineage are fixed at creation.
			e.Period = t.expenses[i].Period
			e.OriginID = t.expenses[i].OriginID
			e.CreatedAt = t.expenses[i].CreatedAt
			t.expenses[i] = copyExpense(e)
			return nil
		}
	}
	return fmt.Errorf("expense %s: %w", e.ID, storage.ErrNotFound)
}

func (t *tx) UpdateIncome(_ context.Context, inc core.Income) error {
	for i := range t.incomes {
		if t.incomes[i].OwnerID == inc.OwnerID && t.incomes[i].ID == inc.ID {
			inc.Period = t.incomes[i].Period
			inc.OriginID = t.incomes[i].OriginID
			inc.CreatedAt = t.incomes[i].CreatedAt
			t.incomes[i] = copyIncome(inc)
			return nil
		}
	}
	return fmt.Errorf("income %s: %w", inc.ID, storage.ErrNotFound)
}

func (t *tx) DeleteExpenses(_ context.Context, ownerID string, ids []string) error {
	for _, id := range ids {
		idx := -1
		for i, e := range t.expenses {
			if e.OwnerID == ownerID && e.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("expense %s: %w", id, storage.ErrNotFound)
		}
		t.expenses = append(t.expenses[:idx], t.expenses[idx+1:]...)
	}
	return nil
}

func (t *tx) DeleteIncome(_ context.Context, ownerID, id string) error {
	for i, inc := range t.incomes {
		if inc.OwnerID == ownerID && inc.ID == id {
			t.incomes = append(t.incomes[:i], t.incomes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("income %s: %w", id, storage.ErrNotFound)
}

func (t *tx) hasExpenseID(id string) bool {
	for _, e := range t.expenses {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (t *tx) hasIncomeID(id string) bool {
	for _, inc := range t.incomes {
		if inc.ID == id {
			return true
		}
	}
	return false
}

func copyExpense(e core.Expense) core.Expense {
	if e.Installment != nil {
		inst := *e.Installment
		e.Installment = &inst
	}
	return e
}

func copyIncome(inc core.Income) core.Income {
	if inc.OccursOn != nil {
		d := *inc.OccursOn
		inc.OccursOn = &d
	}
	return inc
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*tx)(nil)
)
