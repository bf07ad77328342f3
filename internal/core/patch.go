package core

import "github.com/shopspring/decimal"

// ExpensePatch lists the expense fields a partial update may change. Nil
// fields are left untouched.
type ExpensePatch struct {
	Name             *string
	Amount           *decimal.Decimal
	DueDate          *Date
	Installment      *Installment
	ClearInstallment bool
	Recurring        *bool
	Status           *Status
}

// IncomePatch lists the income fields a partial update may change.
type IncomePatch struct {
	Name          *string
	Amount        *decimal.Decimal
	OccursOn      *Date
	ClearOccursOn bool
	Recurring     *bool
}

// Empty reports whether the patch changes nothing.
func (p ExpensePatch) Empty() bool {
	return p.Name == nil && p.Amount == nil && p.DueDate == nil && p.Installment == nil &&
		!p.ClearInstallment && p.Recurring == nil && p.Status == nil
}

// Apply merges the patch into e and returns the result. The caller validates.
func (p ExpensePatch) Apply(e Expense) Expense {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.DueDate != nil {
		e.DueDate = *p.DueDate
	}
	switch {
	case p.ClearInstallment:
		e.Installment = nil
	case p.Installment != nil:
		inst := *p.Installment
		e.Installment = &inst
	}
	if p.Recurring != nil {
		e.Recurring = *p.Recurring
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	return e
}

func (p IncomePatch) Empty() bool {
	return p.Name == nil && p.Amount == nil && p.OccursOn == nil && !p.ClearOccursOn && p.Recurring == nil
}

// Apply merges the patch into i and returns the result. The caller validates.
func (p IncomePatch) Apply(i Income) Income {
	if p.Name != nil {
		i.Name = *p.Name
	}
	if p.Amount != nil {
		i.Amount = *p.Amount
	}
	switch {
	case p.ClearOccursOn:
		i.OccursOn = nil
	case p.OccursOn != nil:
		d := *p.OccursOn
		i.OccursOn = &d
	}
	if p.Recurring != nil {
		i.Recurring = *p.Recurring
	}
	return i
}
