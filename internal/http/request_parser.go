package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"contas/internal/core"
	"contas/internal/services"
)

const maxBodyBytes = 1 << 20

// errMalformedBody marks a request body that is not valid JSON for the
// endpoint.
var errMalformedBody = errors.New("malformed request body")

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a decoded request breaks its constraints.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body into dst and validates it.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", errMalformedBody, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", errMalformedBody)
	}
	return validateRequest(dst)
}

func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return out
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_with":
		return "is required together with " + strings.ToLower(e.Param())
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "min":
		if e.Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		return "must be at least " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "datetime":
		return "must be a date in YYYY-MM-DD form"
	case "oneof":
		return "must be one of: " + e.Param()
	case "numeric":
		return "must be a decimal number"
	default:
		return "is invalid"
	}
}

// createExpenseRequest is the body of POST /api/expenses/{year}/{month}.
type createExpenseRequest struct {
	Name                  string `json:"name" validate:"required,max=255"`
	Amount                string `json:"amount" validate:"required"`
	DueDate               string `json:"due_date" validate:"required,datetime=2006-01-02"`
	InstallmentIndex      *int   `json:"installment_index" validate:"required_with=InstallmentTotal,omitempty,gte=1"`
	InstallmentTotal      *int   `json:"installment_total" validate:"required_with=InstallmentIndex,omitempty,gte=1"`
	Recurring             bool   `json:"recurring"`
	CreateAllInstallments bool   `json:"create_all_installments"`
}

func (req createExpenseRequest) toInput() (services.ExpenseInput, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return services.ExpenseInput{}, err
	}
	due, err := core.ParseDate(req.DueDate)
	if err != nil {
		return services.ExpenseInput{}, fmt.Errorf("%w: %w", errMalformedBody, err)
	}
	return services.ExpenseInput{
		Name:        sanitizeInput(req.Name),
		Amount:      amount,
		DueDate:     due,
		Installment: installmentOf(req.InstallmentIndex, req.InstallmentTotal),
		Recurring:   req.Recurring,
	}, nil
}

// patchExpenseRequest is the body of PATCH /api/expenses/{id}. Absent fields
// are left unchanged.
type patchExpenseRequest struct {
	Name             *string `json:"name" validate:"omitempty,min=1,max=255"`
	Amount           *string `json:"amount" validate:"omitempty,min=1"`
	DueDate          *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	InstallmentIndex *int    `json:"installment_index" validate:"required_with=InstallmentTotal,omitempty,gte=1"`
	InstallmentTotal *int    `json:"installment_total" validate:"required_with=InstallmentIndex,omitempty,gte=1"`
	ClearInstallment bool    `json:"clear_installment"`
	Recurring        *bool   `json:"recurring"`
	Status           *string `json:"status" validate:"omitempty,oneof=Pending Paid pending paid"`
}

func (req patchExpenseRequest) toPatch() (core.ExpensePatch, error) {
	var patch core.ExpensePatch
	if req.Name != nil {
		name := sanitizeInput(*req.Name)
		patch.Name = &name
	}
	if req.Amount != nil {
		amount, err := parseAmountPtr(*req.Amount)
		if err != nil {
			return core.ExpensePatch{}, err
		}
		patch.Amount = amount
	}
	if req.DueDate != nil {
		due, err := core.ParseDate(*req.DueDate)
		if err != nil {
			return core.ExpensePatch{}, fmt.Errorf("%w: %w", errMalformedBody, err)
		}
		patch.DueDate = &due
	}
	patch.Installment = installmentOf(req.InstallmentIndex, req.InstallmentTotal)
	patch.ClearInstallment = req.ClearInstallment
	patch.Recurring = req.Recurring
	if req.Status != nil {
		status, err := core.ParseStatus(*req.Status)
		if err != nil {
			return core.ExpensePatch{}, err
		}
		patch.Status = &status
	}
	return patch, nil
}

// createIncomeRequest is the body of POST /api/incomes/{year}/{month}.
type createIncomeRequest struct {
	Name      string  `json:"name" validate:"required,max=255"`
	Amount    string  `json:"amount" validate:"required"`
	OccursOn  *string `json:"occurs_on" validate:"omitempty,datetime=2006-01-02"`
	Recurring bool    `json:"recurring"`
}

func (req createIncomeRequest) toInput() (services.IncomeInput, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return services.IncomeInput{}, err
	}
	in := services.IncomeInput{
		Name:      sanitizeInput(req.Name),
		Amount:    amount,
		Recurring: req.Recurring,
	}
	if req.OccursOn != nil {
		d, err := core.ParseDate(*req.OccursOn)
		if err != nil {
			return services.IncomeInput{}, fmt.Errorf("%w: %w", errMalformedBody, err)
		}
		in.OccursOn = &d
	}
	return in, nil
}

type patchIncomeRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=1,max=255"`
	Amount        *string `json:"amount" validate:"omitempty,min=1"`
	OccursOn      *string `json:"occurs_on" validate:"omitempty,datetime=2006-01-02"`
	ClearOccursOn bool    `json:"clear_occurs_on"`
	Recurring     *bool   `json:"recurring"`
}

func (req patchIncomeRequest) toPatch() (core.IncomePatch, error) {
	var patch core.IncomePatch
	if req.Name != nil {
		name := sanitizeInput(*req.Name)
		patch.Name = &name
	}
	if req.Amount != nil {
		amount, err := parseAmountPtr(*req.Amount)
		if err != nil {
			return core.IncomePatch{}, err
		}
		patch.Amount = amount
	}
	if req.OccursOn != nil {
		d, err := core.ParseDate(*req.OccursOn)
		if err != nil {
			return core.IncomePatch{}, fmt.Errorf("%w: %w", errMalformedBody, err)
		}
		patch.OccursOn = &d
	}
	patch.ClearOccursOn = req.ClearOccursOn
	patch.Recurring = req.Recurring
	return patch, nil
}

func parseAmountPtr(s string) (*decimal.Decimal, error) {
	d, err := core.ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func installmentOf(index, total *int) *core.Installment {
	if index == nil || total == nil {
		return nil
	}
	return &core.Installment{Index: *index, Total: *total}
}
