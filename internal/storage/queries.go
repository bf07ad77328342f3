package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"contas/internal/core"
)

const timestampLayout = time.RFC3339Nano

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL of the ledger, run against a pool or a transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const expenseColumns = `id, owner_id, period, name, amount, due_date, installment_index,
	installment_total, recurring, status, origin_id, created_at, updated_at`

const incomeColumns = `id, owner_id, period, name, amount, occurs_on, recurring,
	origin_id, created_at, updated_at`

const listExpensesByPeriod = `SELECT ` + expenseColumns + `
FROM expenses WHERE owner_id = ? AND period = ?
ORDER BY due_date, created_at, id`

func (q *Queries) ListExpenses(ctx context.Context, ownerID string, p core.Period) ([]core.Expense, error) {
	return q.queryExpenses(ctx, listExpensesByPeriod, ownerID, p.Start().String())
}

const listIncomesByPeriod = `SELECT ` + incomeColumns + `
FROM incomes WHERE owner_id = ? AND period = ?
ORDER BY occurs_on, created_at, id`

func (q *Queries) ListIncomes(ctx context.Context, ownerID string, p core.Period) ([]core.Income, error) {
	rows, err := q.db.QueryContext(ctx, listIncomesByPeriod, ownerID, p.Start().String())
	if err != nil {
		return nil, fmt.Errorf("query incomes: %w", err)
	}
	defer rows.Close()

	var out []core.Income
	for rows.Next() {
		inc, err := scanIncome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

const listInstallmentExpenses = `SELECT ` + expenseColumns + `
FROM expenses WHERE owner_id = ? AND installment_total > 1
ORDER BY period, installment_index, id`

func (q *Queries) ListInstallmentExpenses(ctx context.Context, ownerID string) ([]core.Expense, error) {
	return q.queryExpenses(ctx, listInstallmentExpenses, ownerID)
}

const listInstallmentSequence = `SELECT ` + expenseColumns + `
FROM expenses WHERE owner_id = ? AND name_key = ? AND installment_total = ?
ORDER BY period, installment_index, id`

func (q *Queries) ListInstallmentSequence(ctx context.Context, ownerID, name string, total int) ([]core.Expense, error) {
	return q.queryExpenses(ctx, listInstallmentSequence, ownerID, core.NormalizeName(name), total)
}

const getExpense = `SELECT ` + expenseColumns + ` FROM expenses WHERE owner_id = ? AND id = ?`

func (q *Queries) GetExpense(ctx context.Context, ownerID, id string) (core.Expense, error) {
	e, err := scanExpense(q.db.QueryRowContext(ctx, getExpense, ownerID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, ErrNotFound)
	}
	return e, err
}

const getIncome = `SELECT ` + incomeColumns + ` FROM incomes WHERE owner_id = ? AND id = ?`

func (q *Queries) GetIncome(ctx context.Context, ownerID, id string) (core.Income, error) {
	inc, err := scanIncome(q.db.QueryRowContext(ctx, getIncome, ownerID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Income{}, fmt.Errorf("income %s: %w", id, ErrNotFound)
	}
	return inc, err
}

const expenseReplicaExists = `SELECT EXISTS(
	SELECT 1 FROM expenses WHERE owner_id = ? AND period = ? AND origin_id = ?)`

func (q *Queries) ExpenseReplicaExists(ctx context.Context, ownerID string, p core.Period, originID string) (bool, error) {
	return q.exists(ctx, expenseReplicaExists, ownerID, p.Start().String(), originID)
}

const incomeReplicaExists = `SELECT EXISTS(
	SELECT 1 FROM incomes WHERE owner_id = ? AND period = ? AND origin_id = ?)`

func (q *Queries) IncomeReplicaExists(ctx context.Context, ownerID string, p core.Period, originID string) (bool, error) {
	return q.exists(ctx, incomeReplicaExists, ownerID, p.Start().String(), originID)
}

const installmentExists = `SELECT EXISTS(
	SELECT 1 FROM expenses
	WHERE owner_id = ? AND period = ? AND name_key = ?
	  AND installment_index = ? AND installment_total = ?)`

func (q *Queries) InstallmentExists(ctx context.Context, ownerID string, p core.Period, name string, inst core.Installment) (bool, error) {
	return q.exists(ctx, installmentExists, ownerID, p.Start().String(), core.NormalizeName(name), inst.Index, inst.Total)
}

const listOwnersWithEntries = `SELECT owner_id FROM expenses WHERE period = ?
UNION
SELECT owner_id FROM incomes WHERE period = ?
ORDER BY 1`

func (q *Queries) ListOwnersWithEntries(ctx context.Context, p core.Period) ([]string, error) {
	start := p.Start().String()
	rows, err := q.db.QueryContext(ctx, listOwnersWithEntries, start, start)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

const insertExpense = `INSERT INTO expenses (` + expenseColumns + `, name_key)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`

func (q *Queries) InsertExpenses(ctx context.Context, expenses []core.Expense) (int, error) {
	inserted := 0
	for _, e := range expenses {
		var index, total sql.NullInt64
		if e.Installment != nil {
			index = sql.NullInt64{Int64: int64(e.Installment.Index), Valid: true}
			total = sql.NullInt64{Int64: int64(e.Installment.Total), Valid: true}
		}
		res, err := q.db.ExecContext(ctx, insertExpense,
			e.ID, e.OwnerID, e.Period.Start().String(), e.Name, e.Amount.String(), e.DueDate.String(),
			index, total, e.Recurring, string(e.Status), nullString(e.OriginID),
			e.CreatedAt.UTC().Format(timestampLayout), e.UpdatedAt.UTC().Format(timestampLayout),
			core.NormalizeName(e.Name))
		if err != nil {
			return inserted, fmt.Errorf("insert expense %s: %w", e.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("insert expense %s: %w", e.ID, err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

const insertIncome = `INSERT INTO incomes (` + incomeColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`

func (q *Queries) InsertIncomes(ctx context.Context, incomes []core.Income) (int, error) {
	inserted := 0
	for _, i := range incomes {
		var occursOn sql.NullString
		if i.OccursOn != nil {
			occursOn = sql.NullString{String: i.OccursOn.String(), Valid: true}
		}
		res, err := q.db.ExecContext(ctx, insertIncome,
			i.ID, i.OwnerID, i.Period.Start().String(), i.Name, i.Amount.String(), occursOn,
			i.Recurring, nullString(i.OriginID),
			i.CreatedAt.UTC().Format(timestampLayout), i.UpdatedAt.UTC().Format(timestampLayout))
		if err != nil {
			return inserted, fmt.Errorf("insert income %s: %w", i.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("insert income %s: %w", i.ID, err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

const updateExpenseStatus = `UPDATE expenses SET status = ?, updated_at = ? WHERE owner_id = ? AND id = ?`

func (q *Queries) UpdateExpenseStatuses(ctx context.Context, ownerID string, changes []core.StatusChange) error {
	now := time.Now().UTC().Format(timestampLayout)
	for _, c := range changes {
		if _, err := q.db.ExecContext(ctx, updateExpenseStatus, string(c.Status), now, ownerID, c.ID); err != nil {
			return fmt.Errorf("update status of expense %s: %w", c.ID, err)
		}
	}
	return nil
}

const updateExpense = `UPDATE expenses SET
	name = ?, name_key = ?, amount = ?, due_date = ?, installment_index = ?, installment_total = ?,
	recurring = ?, status = ?, updated_at = ?
WHERE owner_id = ? AND id = ?`

func (q *Queries) UpdateExpense(ctx context.Context, e core.Expense) error {
	var index, total sql.NullInt64
	if e.Installment != nil {
		index = sql.NullInt64{Int64: int64(e.Installment.Index), Valid: true}
		total = sql.NullInt64{Int64: int64(e.Installment.Total), Valid: true}
	}
	res, err := q.db.ExecContext(ctx, updateExpense,
		e.Name, core.NormalizeName(e.Name), e.Amount.String(), e.DueDate.String(), index, total,
		e.Recurring, string(e.Status), e.UpdatedAt.UTC().Format(timestampLayout), e.OwnerID, e.ID)
	if err != nil {
		return fmt.Errorf("update expense %s: %w", e.ID, err)
	}
	return requireRow(res, "expense", e.ID)
}

const updateIncome = `UPDATE incomes SET
	name = ?, amount = ?, occurs_on = ?, recurring = ?, updated_at = ?
WHERE owner_id = ? AND id = ?`

func (q *Queries) UpdateIncome(ctx context.Context, i core.Income) error {
	var occursOn sql.NullString
	if i.OccursOn != nil {
		occursOn = sql.NullString{String: i.OccursOn.String(), Valid: true}
	}
	res, err := q.db.ExecContext(ctx, updateIncome,
		i.Name, i.Amount.String(), occursOn, i.Recurring, i.UpdatedAt.UTC().Format(timestampLayout), i.OwnerID, i.ID)
	if err != nil {
		return fmt.Errorf("update income %s: %w", i.ID, err)
	}
	return requireRow(res, "income", i.ID)
}

const deleteExpense = `DELETE FROM expenses WHERE owner_id = ? AND id = ?`

func (q *Queries) DeleteExpenses(ctx context.Context, ownerID string, ids []string) error {
	for _, id := range ids {
		res, err := q.db.ExecContext(ctx, deleteExpense, ownerID, id)
		if err != nil {
			return fmt.Errorf("delete expense %s: %w", id, err)
		}
		if err := requireRow(res, "expense", id); err != nil {
			return err
		}
	}
	return nil
}

const deleteIncome = `DELETE FROM incomes WHERE owner_id = ? AND id = ?`

func (q *Queries) DeleteIncome(ctx context.Context, ownerID, id string) error {
	res, err := q.db.ExecContext(ctx, deleteIncome, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete income %s: %w", id, err)
	}
	return requireRow(res, "income", id)
}

func (q *Queries) queryExpenses(ctx context.Context, query string, args ...any) ([]core.Expense, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("existence check: %w", err)
	}
	return found, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (core.Expense, error) {
	var (
		e                    core.Expense
		period, amount, due  string
		status               string
		index, total         sql.NullInt64
		originID             sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&e.ID, &e.OwnerID, &period, &e.Name, &amount, &due, &index, &total,
		&e.Recurring, &status, &originID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan expense: %w", err)
	}

	if e.Period, err = core.ParsePeriodStart(period); err != nil {
		return e, fmt.Errorf("expense %s: %w", e.ID, err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return e, fmt.Errorf("expense %s amount: %w", e.ID, err)
	}
	if e.DueDate, err = core.ParseDate(due); err != nil {
		return e, fmt.Errorf("expense %s: %w", e.ID, err)
	}
	if index.Valid && total.Valid {
		e.Installment = &core.Installment{Index: int(index.Int64), Total: int(total.Int64)}
	}
	e.Status = core.Status(status)
	e.OriginID = originID.String
	if e.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return e, fmt.Errorf("expense %s created_at: %w", e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
		return e, fmt.Errorf("expense %s updated_at: %w", e.ID, err)
	}
	return e, nil
}

func scanIncome(row scanner) (core.Income, error) {
	var (
		i                    core.Income
		period, amount       string
		occursOn, originID   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&i.ID, &i.OwnerID, &period, &i.Name, &amount, &occursOn, &i.Recurring,
		&originID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return i, err
		}
		return i, fmt.Errorf("scan income: %w", err)
	}

	if i.Period, err = core.ParsePeriodStart(period); err != nil {
		return i, fmt.Errorf("income %s: %w", i.ID, err)
	}
	if i.Amount, err = decimal.NewFromString(amount); err != nil {
		return i, fmt.Errorf("income %s amount: %w", i.ID, err)
	}
	if occursOn.Valid {
		d, err := core.ParseDate(occursOn.String)
		if err != nil {
			return i, fmt.Errorf("income %s: %w", i.ID, err)
		}
		i.OccursOn = &d
	}
	i.OriginID = originID.String
	if i.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return i, fmt.Errorf("income %s created_at: %w", i.ID, err)
	}
	if i.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
		return i, fmt.Errorf("income %s updated_at: %w", i.ID, err)
	}
	return i, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
