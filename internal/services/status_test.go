package services

import (
	"testing"

	"contas/internal/core"
)

func TestPromoteOverdue(t *testing.T) {
	today := core.NewDate(2025, 1, 20)

	tests := []struct {
		name       string
		status     core.Status
		due        core.Date
		wantStatus core.Status
		wantChange bool
	}{
		{"pending past due", core.StatusPending, core.NewDate(2025, 1, 10), core.StatusOverdue, true},
		{"pending due today", core.StatusPending, today, core.StatusPending, false},
		{"pending future", core.StatusPending, core.NewDate(2025, 1, 25), core.StatusPending, false},
		{"paid past due", core.StatusPaid, core.NewDate(2025, 1, 10), core.StatusPaid, false},
		{"already overdue", core.StatusOverdue, core.NewDate(2025, 1, 10), core.StatusOverdue, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expenses := []core.Expense{{ID: "e1", Status: tt.status, DueDate: tt.due}}

			changes := PromoteOverdue(expenses, today)

			if expenses[0].Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", expenses[0].Status, tt.wantStatus)
			}
			if got := len(changes) == 1; got != tt.wantChange {
				t.Errorf("changes = %v, want change %v", changes, tt.wantChange)
			}
		})
	}
}

func TestPromoteOverdue_Idempotent(t *testing.T) {
	today := core.NewDate(2025, 3, 1)
	expenses := []core.Expense{
		{ID: "a", Status: core.StatusPending, DueDate: core.NewDate(2025, 2, 10)},
		{ID: "b", Status: core.StatusPaid, DueDate: core.NewDate(2025, 2, 10)},
	}

	first := PromoteOverdue(expenses, today)
	second := PromoteOverdue(expenses, today)

	if len(first) != 1 || first[0].ID != "a" {
		t.Fatalf("first pass = %v", first)
	}
	if len(second) != 0 {
		t.Fatalf("second pass changed %v", second)
	}
}
