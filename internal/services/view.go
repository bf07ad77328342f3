package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"contas/internal/core"
	"contas/internal/storage"
)

// MonthlyViewBuilder composes the ledger of one owner and period, replicating
// and promoting overdue expenses on the way.
type MonthlyViewBuilder struct {
	store   storage.Store
	engine  *ReplicationEngine
	reports *InstallmentAggregator
	now     func() time.Time
}

// NewMonthlyViewBuilder returns a builder. reports may be nil; when set its
// cache is dropped whenever building a view changes stored entries.
func NewMonthlyViewBuilder(store storage.Store, engine *ReplicationEngine, reports *InstallmentAggregator) *MonthlyViewBuilder {
	return &MonthlyViewBuilder{
		store:   store,
		engine:  engine,
		reports: reports,
		now:     time.Now,
	}
}

func (b *MonthlyViewBuilder) BuildView(ctx context.Context, ownerID string, p core.Period) (core.MonthlyView, error) {
	replicated, err := b.engine.Replicate(ctx, ownerID, p)
	if err != nil {
		return core.MonthlyView{}, fmt.Errorf("build view %s: %w", p, err)
	}

	today := core.DateOf(b.now())
	var (
		expenses []core.Expense
		incomes  []core.Income
		promoted int
	)
	err = b.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		expenses, promoted, err = promotePeriod(ctx, tx, ownerID, p, today)
		if err != nil {
			return err
		}
		incomes, err = tx.ListIncomes(ctx, ownerID, p)
		if err != nil {
			return fmt.Errorf("list incomes: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.MonthlyView{}, storeFailure("build view "+p.String(), err)
	}

	if promoted > 0 {
		slog.InfoContext(ctx, "Expenses promoted to overdue",
			"owner_id", ownerID,
			"period", p.String(),
			"count", promoted)
	}
	if replicated.Generated() || promoted > 0 {
		b.reports.Invalidate(ownerID)
	}

	return composeView(p, expenses, incomes), nil
}

func composeView(p core.Period, expenses []core.Expense, incomes []core.Income) core.MonthlyView {
	var totalExpenses, totalIncome, paid, pending, overdue decimal.Decimal
	for _, e := range expenses {
		totalExpenses = totalExpenses.Add(e.Amount)
		switch e.Status {
		case core.StatusPaid:
			paid = paid.Add(e.Amount)
		case core.StatusOverdue:
			overdue = overdue.Add(e.Amount)
		default:
			pending = pending.Add(e.Amount)
		}
	}
	for _, i := range incomes {
		totalIncome = totalIncome.Add(i.Amount)
	}

	if expenses == nil {
		expenses = []core.Expense{}
	}
	if incomes == nil {
		incomes = []core.Income{}
	}
	return core.MonthlyView{
		Period:        p,
		TotalExpenses: core.RoundMoney(totalExpenses),
		TotalIncome:   core.RoundMoney(totalIncome),
		NetBalance:    core.RoundMoney(totalIncome.Sub(totalExpenses)),
		TotalPaid:     core.RoundMoney(paid),
		TotalPending:  core.RoundMoney(pending),
		TotalOverdue:  core.RoundMoney(overdue),
		Expenses:      expenses,
		Incomes:       incomes,
	}
}
