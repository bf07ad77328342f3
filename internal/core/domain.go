package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending Status = "Pending"
	StatusPaid    Status = "Paid"
	StatusOverdue Status = "Overdue"
)

const maxNameLength = 255

type (
	Status string

	// Installment marks an expense as one payment of a fixed-length sequence.
	Installment struct {
		Index int
		Total int
	}

	Expense struct {
		ID          string
		OwnerID     string
		Period      Period
		Name        string
		Amount      decimal.Decimal
		DueDate     Date
		Installment *Installment // nil for expenses outside a sequence
		Recurring   bool
		Status      Status
		OriginID    string // empty when created directly by the user
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	Income struct {
		ID        string
		OwnerID   string
		Period    Period
		Name      string
		Amount    decimal.Decimal
		OccursOn  *Date
		Recurring bool
		OriginID  string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// StatusChange records a status transition to persist for one expense.
	StatusChange struct {
		ID     string
		Status Status
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyName          = errors.New("empty name")
	ErrNameTooLong        = errors.New("name too long (max 255 characters)")
	ErrInvalidInstallment = errors.New("invalid installment")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrMissingDueDate     = errors.New("missing due date")
	ErrMissingOwner       = errors.New("missing owner")
)

// ParseStatus accepts a status name regardless of case.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "paid":
		return StatusPaid, nil
	case "overdue":
		return StatusOverdue, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue:
		return true
	default:
		return false
	}
}

// SettableTo reports whether a user may move an entry from s to next.
// Overdue is only ever reached by promotion, and an overdue entry can only
// be paid.
func (s Status) SettableTo(next Status) bool {
	switch next {
	case s:
		return true
	case StatusPaid:
		return true
	case StatusPending:
		return s == StatusPaid
	default:
		return false
	}
}

// NormalizeName is the form of a name used for grouping and deduplication.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (i Installment) Validate() error {
	if i.Total < 1 || i.Index < 1 {
		return fmt.Errorf("%w: index and total must be at least 1", ErrInvalidInstallment)
	}
	if i.Index > i.Total {
		return fmt.Errorf("%w: index %d exceeds total %d", ErrInvalidInstallment, i.Index, i.Total)
	}
	return nil
}

// Terminal reports whether this is the last payment of the sequence.
func (i Installment) Terminal() bool {
	return i.Index == i.Total
}

func (i Installment) String() string {
	return fmt.Sprintf("%d/%d", i.Index, i.Total)
}

// HasInstallment reports whether the expense belongs to an installment sequence.
func (e Expense) HasInstallment() bool {
	return e.Installment != nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.OwnerID) == "" {
		return ErrMissingOwner
	}
	if err := validateName(e.Name); err != nil {
		return err
	}
	if err := validateAmount(e.Amount); err != nil {
		return err
	}
	if e.DueDate.IsZero() {
		return ErrMissingDueDate
	}
	if e.Installment != nil {
		if err := e.Installment.Validate(); err != nil {
			return err
		}
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, e.Status)
	}
	return nil
}

func (i Income) Validate() error {
	if strings.TrimSpace(i.OwnerID) == "" {
		return ErrMissingOwner
	}
	if err := validateName(i.Name); err != nil {
		return err
	}
	return validateAmount(i.Amount)
}

func validateName(name string) error {
	if len(strings.TrimSpace(name)) == 0 {
		return ErrEmptyName
	}
	if len(name) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// IsValidationError reports whether err is caused by invalid entry data.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrEmptyName, ErrNameTooLong, ErrInvalidInstallment,
		ErrInvalidStatus, ErrMissingDueDate, ErrMissingOwner, ErrInvalidPeriod,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
