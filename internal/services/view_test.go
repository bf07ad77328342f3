package services

import (
	"context"
	"testing"
	"time"

	"contas/internal/core"
	"contas/internal/storage/memory"
)

func TestMonthlyViewBuilder_BuildView(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedJanuary(t, store, "alice")
	seedExpenses(t, store,
		withStatus(newExpense("extra", "alice", feb2025, "Books", "45.50", core.NewDate(2025, 2, 2)), core.StatusPaid),
	)

	cache := mapCache{"alice": {}}
	reports := NewInstallmentAggregator(store, cache)
	builder := NewMonthlyViewBuilder(store, newTestEngine(store), reports)
	builder.now = func() time.Time { return time.Date(2025, 2, 12, 8, 0, 0, 0, time.UTC) }

	view, err := builder.BuildView(ctx, "alice", feb2025)
	if err != nil {
		t.Fatalf("BuildView: %v", err)
	}

	if view.Period != feb2025 {
		t.Errorf("period = %s", view.Period)
	}
	if len(view.Expenses) != 3 || len(view.Incomes) != 1 {
		t.Fatalf("got %d expenses and %d incomes, want 3 and 1", len(view.Expenses), len(view.Incomes))
	}
	mustDecimal(t, view.TotalExpenses, "1745.50")
	mustDecimal(t, view.TotalIncome, "5000")
	mustDecimal(t, view.NetBalance, "3254.50")
	mustDecimal(t, view.TotalPaid, "45.50")
	// Aluguel is due Feb-10 and today is Feb-12.
	mustDecimal(t, view.TotalOverdue, "1500")
	mustDecimal(t, view.TotalPending, "200")

	stored, _ := store.ListExpenses(ctx, "alice", feb2025)
	overdue := 0
	for _, e := range stored {
		if e.Status == core.StatusOverdue {
			overdue++
		}
	}
	if overdue != 1 {
		t.Errorf("persisted %d overdue expenses, want 1", overdue)
	}
	if _, ok := cache["alice"]; ok {
		t.Error("report cache not invalidated after replication")
	}

	again, err := builder.BuildView(ctx, "alice", feb2025)
	if err != nil {
		t.Fatalf("second BuildView: %v", err)
	}
	if len(again.Expenses) != 3 {
		t.Errorf("second view has %d expenses", len(again.Expenses))
	}
}

func TestMonthlyViewBuilder_EmptyMonth(t *testing.T) {
	store := memory.New()
	builder := NewMonthlyViewBuilder(store, newTestEngine(store), nil)

	view, err := builder.BuildView(context.Background(), "alice", feb2025)
	if err != nil {
		t.Fatalf("BuildView: %v", err)
	}
	if view.Expenses == nil || view.Incomes == nil {
		t.Error("empty view lists must be non-nil")
	}
	if !view.TotalExpenses.IsZero() || !view.NetBalance.IsZero() {
		t.Errorf("totals = %s / %s", view.TotalExpenses, view.NetBalance)
	}
}
