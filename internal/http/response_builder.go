package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"contas/internal/core"
	"contas/internal/services"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body writes none.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if err := json.NewEncoder(w).Encode(b.body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error     string       `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
	Fields    []FieldError `json:"fields,omitempty"`
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, message string) {
	NewJSONResponse().
		Status(status).
		Body(errorBody{Error: message, RequestID: requestID(r.Context())}).
		Write(w)
}

// writeError maps a service error to its status code. Store failures are
// reported as retryable.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error(), RequestID: requestID(r.Context())}
	status := http.StatusInternalServerError

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		body.Error = "invalid request"
		body.Fields = verr.Fields
	case errors.Is(err, errMalformedBody):
		status = http.StatusBadRequest
	case core.IsValidationError(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
		body.Error = "not found"
	case errors.Is(err, services.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		body.Error = "ledger temporarily unavailable, try again"
	default:
		body.Error = "internal error"
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"error", err,
			"status_code", status,
			"path", r.URL.Path)
	}

	b := NewJSONResponse().Status(status).Body(body)
	if status == http.StatusServiceUnavailable {
		b.Header("Retry-After", "1")
	}
	b.Write(w)
}

func money(d decimal.Decimal) string {
	return core.FormatMoney(core.RoundMoney(d))
}

type installmentResponse struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

type expenseResponse struct {
	ID          string               `json:"id"`
	Period      core.Period          `json:"period"`
	Name        string               `json:"name"`
	Amount      string               `json:"amount"`
	DueDate     core.Date            `json:"due_date"`
	Installment *installmentResponse `json:"installment,omitempty"`
	Recurring   bool                 `json:"recurring"`
	Status      core.Status          `json:"status"`
	OriginID    string               `json:"origin_id,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type incomeResponse struct {
	ID        string      `json:"id"`
	Period    core.Period `json:"period"`
	Name      string      `json:"name"`
	Amount    string      `json:"amount"`
	OccursOn  *core.Date  `json:"occurs_on,omitempty"`
	Recurring bool        `json:"recurring"`
	OriginID  string      `json:"origin_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type monthlyViewResponse struct {
	Period        core.Period       `json:"period"`
	TotalExpenses string            `json:"total_expenses"`
	TotalIncome   string            `json:"total_income"`
	NetBalance    string            `json:"net_balance"`
	TotalPaid     string            `json:"total_paid"`
	TotalPending  string            `json:"total_pending"`
	TotalOverdue  string            `json:"total_overdue"`
	Expenses      []expenseResponse `json:"expenses"`
	Incomes       []incomeResponse  `json:"incomes"`
}

type purchaseGroupResponse struct {
	Name             string            `json:"name"`
	InstallmentTotal int               `json:"installment_total"`
	PurchaseTotal    string            `json:"purchase_total"`
	Paid             string            `json:"paid"`
	Remaining        string            `json:"remaining"`
	HasPending       bool              `json:"has_pending"`
	Status           core.GroupStatus  `json:"status"`
	Installments     []expenseResponse `json:"installments"`
}

type installmentReportResponse struct {
	Groups       []purchaseGroupResponse `json:"groups"`
	TotalSpent   string                  `json:"total_spent"`
	TotalPaid    string                  `json:"total_paid"`
	TotalPending string                  `json:"total_pending"`
	TotalOverdue string                  `json:"total_overdue"`
}

func toExpenseResponse(e core.Expense) expenseResponse {
	resp := expenseResponse{
		ID:        e.ID,
		Period:    e.Period,
		Name:      e.Name,
		Amount:    money(e.Amount),
		DueDate:   e.DueDate,
		Recurring: e.Recurring,
		Status:    e.Status,
		OriginID:  e.OriginID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.Installment != nil {
		resp.Installment = &installmentResponse{Index: e.Installment.Index, Total: e.Installment.Total}
	}
	return resp
}

func toExpenseResponses(expenses []core.Expense) []expenseResponse {
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	return out
}

func toIncomeResponse(i core.Income) incomeResponse {
	return incomeResponse{
		ID:        i.ID,
		Period:    i.Period,
		Name:      i.Name,
		Amount:    money(i.Amount),
		OccursOn:  i.OccursOn,
		Recurring: i.Recurring,
		OriginID:  i.OriginID,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

func toMonthlyViewResponse(v core.MonthlyView) monthlyViewResponse {
	resp := monthlyViewResponse{
		Period:        v.Period,
		TotalExpenses: money(v.TotalExpenses),
		TotalIncome:   money(v.TotalIncome),
		NetBalance:    money(v.NetBalance),
		TotalPaid:     money(v.TotalPaid),
		TotalPending:  money(v.TotalPending),
		TotalOverdue:  money(v.TotalOverdue),
		Expenses:      toExpenseResponses(v.Expenses),
		Incomes:       make([]incomeResponse, 0, len(v.Incomes)),
	}
	for _, i := range v.Incomes {
		resp.Incomes = append(resp.Incomes, toIncomeResponse(i))
	}
	return resp
}

func toInstallmentReportResponse(r core.InstallmentReport) installmentReportResponse {
	resp := installmentReportResponse{
		Groups:       make([]purchaseGroupResponse, 0, len(r.Groups)),
		TotalSpent:   money(r.TotalSpent),
		TotalPaid:    money(r.TotalPaid),
		TotalPending: money(r.TotalPending),
		TotalOverdue: money(r.TotalOverdue),
	}
	for _, g := range r.Groups {
		resp.Groups = append(resp.Groups, purchaseGroupResponse{
			Name:             g.Name,
			InstallmentTotal: g.InstallmentTotal,
			PurchaseTotal:    money(g.PurchaseTotal),
			Paid:             money(g.Paid),
			Remaining:        money(g.Remaining),
			HasPending:       g.HasPending,
			Status:           g.Status,
			Installments:     toExpenseResponses(g.Installments),
		})
	}
	return resp
}
