package services

import (
	"context"
	"fmt"

	"contas/internal/core"
	"contas/internal/storage"
)

// PromoteOverdue marks every pending expense due before today as overdue,
// updating the slice in place, and returns the transitions it made.
func PromoteOverdue(expenses []core.Expense, today core.Date) []core.StatusChange {
	var changes []core.StatusChange
	for i := range expenses {
		e := &expenses[i]
		if e.Status == core.StatusPending && e.DueDate.Before(today) {
			e.Status = core.StatusOverdue
			changes = append(changes, core.StatusChange{ID: e.ID, Status: core.StatusOverdue})
		}
	}
	return changes
}

// promotePeriod loads the owner's expenses in p, promotes the stale ones and
// persists the transitions through tx.
func promotePeriod(ctx context.Context, tx storage.Tx, ownerID string, p core.Period, today core.Date) ([]core.Expense, int, error) {
	expenses, err := tx.ListExpenses(ctx, ownerID, p)
	if err != nil {
		return nil, 0, fmt.Errorf("list expenses: %w", err)
	}
	changes := PromoteOverdue(expenses, today)
	if len(changes) == 0 {
		return expenses, 0, nil
	}
	if err := tx.UpdateExpenseStatuses(ctx, ownerID, changes); err != nil {
		return nil, 0, fmt.Errorf("persist status changes: %w", err)
	}
	return expenses, len(changes), nil
}
