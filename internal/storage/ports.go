package storage

import (
	"context"
	"errors"

	"contas/internal/core"
)

var ErrNotFound = errors.New("entry not found")

// Reader exposes the owner-scoped queries of the ledger.
type Reader interface {
	ListExpenses(ctx context.Context, ownerID string, p core.Period) ([]core.Expense, error)
	ListIncomes(ctx context.Context, ownerID string, p core.Period) ([]core.Income, error)
	// ListInstallmentExpenses returns every expense of the owner whose
	// installment total is greater than one.
	ListInstallmentExpenses(ctx context.Context, ownerID string) ([]core.Expense, error)
	// ListInstallmentSequence returns the expenses sharing a normalized name
	// and installment total.
	ListInstallmentSequence(ctx context.Context, ownerID, name string, total int) ([]core.Expense, error)
	GetExpense(ctx context.Context, ownerID, id string) (core.Expense, error)
	GetIncome(ctx context.Context, ownerID, id string) (core.Income, error)

	ExpenseReplicaExists(ctx context.Context, ownerID string, p core.Period, originID string) (bool, error)
	IncomeReplicaExists(ctx context.Context, ownerID string, p core.Period, originID string) (bool, error)
	// InstallmentExists matches on normalized name, index and total.
	InstallmentExists(ctx context.Context, ownerID string, p core.Period, name string, inst core.Installment) (bool, error)

	// ListOwnersWithEntries returns the owners holding any entry in p.
	ListOwnersWithEntries(ctx context.Context, p core.Period) ([]string, error)
}

// Tx is a unit of work. Nothing written through it is visible to other
// readers until the surrounding WithinTx returns nil.
type Tx interface {
	Reader

	// InsertExpenses skips rows whose (owner, period, origin) is already
	// taken and returns how many were inserted.
	InsertExpenses(ctx context.Context, expenses []core.Expense) (int, error)
	InsertIncomes(ctx context.Context, incomes []core.Income) (int, error)
	UpdateExpenseStatuses(ctx context.Context, ownerID string, changes []core.StatusChange) error
	UpdateExpense(ctx context.Context, e core.Expense) error
	UpdateIncome(ctx context.Context, i core.Income) error
	DeleteExpenses(ctx context.Context, ownerID string, ids []string) error
	DeleteIncome(ctx context.Context, ownerID, id string) error
}

// Store is the ledger store consumed by the services.
type Store interface {
	Reader
	// WithinTx runs fn in a transaction, committing only if fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
