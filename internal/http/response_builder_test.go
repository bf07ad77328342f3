package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"contas/internal/core"
	"contas/internal/services"
)

func TestJSONResponseBuilder(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/1").
		Body(map[string]string{"id": "1"}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Location") != "/api/expenses/1" {
		t.Errorf("location = %q", w.Header().Get("Location"))
	}
	if w.Header().Get("Content-Type") != "application/json; charset=utf-8" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["id"] != "1" {
		t.Errorf("body = %s (%v)", w.Body.String(), err)
	}
}

func TestJSONResponseBuilder_NoBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantRetry  bool
	}{
		{"validation", fmt.Errorf("create expense: %w", core.ErrInvalidAmount), http.StatusUnprocessableEntity, false},
		{"request fields", &ValidationError{Fields: []FieldError{{Field: "name", Message: "is required"}}}, http.StatusUnprocessableEntity, false},
		{"malformed", fmt.Errorf("%w: eof", errMalformedBody), http.StatusBadRequest, false},
		{"not found", fmt.Errorf("update expense x: %w", services.ErrNotFound), http.StatusNotFound, false},
		{"store down", fmt.Errorf("replicate: %w: %w", services.ErrStoreUnavailable, errors.New("database is locked")), http.StatusServiceUnavailable, true},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey, "req_test"))
			w := httptest.NewRecorder()
			writeError(w, r, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Retry-After") != ""; got != tt.wantRetry {
				t.Errorf("Retry-After set = %v, want %v", got, tt.wantRetry)
			}
			var body errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.RequestID != "req_test" {
				t.Errorf("request id = %q", body.RequestID)
			}
			if tt.wantStatus == http.StatusInternalServerError && body.Error != "internal error" {
				t.Errorf("internal error leaked: %q", body.Error)
			}
		})
	}
}

func TestToMonthlyViewResponse_RoundsAmounts(t *testing.T) {
	view := core.MonthlyView{
		Period:        core.Period{Year: 2025, Month: 2},
		TotalExpenses: decimal.RequireFromString("1745.5"),
		TotalIncome:   decimal.RequireFromString("5000"),
		NetBalance:    decimal.RequireFromString("3254.5"),
		TotalPaid:     decimal.RequireFromString("45.499"),
		TotalPending:  decimal.Zero,
		TotalOverdue:  decimal.RequireFromString("1500"),
	}
	resp := toMonthlyViewResponse(view)
	if resp.TotalExpenses != "1745.50" || resp.NetBalance != "3254.50" || resp.TotalPaid != "45.50" || resp.TotalPending != "0.00" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Expenses == nil || resp.Incomes == nil {
		t.Error("entry lists must encode as [] not null")
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["period"] != "2025-02-01" {
		t.Errorf("period = %v", decoded["period"])
	}
}

func TestToExpenseResponse(t *testing.T) {
	e := core.Expense{
		ID:          "e1",
		Name:        "TV",
		Amount:      decimal.RequireFromString("500"),
		DueDate:     core.NewDate(2025, 1, 10),
		Installment: &core.Installment{Index: 3, Total: 10},
		Status:      core.StatusOverdue,
	}
	resp := toExpenseResponse(e)
	if resp.Amount != "500.00" || resp.Installment == nil || resp.Installment.Index != 3 || resp.Status != core.StatusOverdue {
		t.Errorf("resp = %+v", resp)
	}
	e.Installment = nil
	if toExpenseResponse(e).Installment != nil {
		t.Error("plain expense should omit installment")
	}
}
