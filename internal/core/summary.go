package core

import "github.com/shopspring/decimal"

const (
	GroupComplete   GroupStatus = "Complete"
	GroupInProgress GroupStatus = "In-Progress"
)

type GroupStatus string

// MonthlyView is the composed ledger for one owner and period.
type MonthlyView struct {
	Period        Period
	TotalExpenses decimal.Decimal
	TotalIncome   decimal.Decimal
	NetBalance    decimal.Decimal
	TotalPaid     decimal.Decimal
	TotalPending  decimal.Decimal
	TotalOverdue  decimal.Decimal
	Expenses      []Expense
	Incomes       []Income
}

// PurchaseGroup aggregates the installments of one purchase.
type PurchaseGroup struct {
	Name             string // as first recorded
	InstallmentTotal int
	PurchaseTotal    decimal.Decimal
	Paid             decimal.Decimal
	Remaining        decimal.Decimal
	HasPending       bool
	Status           GroupStatus
	Installments     []Expense
}

// InstallmentReport is the progress of every installment purchase of an owner.
type InstallmentReport struct {
	Groups       []PurchaseGroup
	TotalSpent   decimal.Decimal
	TotalPaid    decimal.Decimal
	TotalPending decimal.Decimal
	TotalOverdue decimal.Decimal
}
