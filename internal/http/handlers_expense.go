package http

import (
	"net/http"

	"contas/internal/log"
)

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	p, err := pathPeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createExpenseRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	owner := ownerFromContext(ctx)
	if req.CreateAllInstallments && in.Installment != nil {
		created, err := s.deps.Entries.CreateInstallmentPlan(ctx, owner, p, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.logger.LogLedgerWrite(ctx, log.OpCreate, owner, p.String(), "")
		NewJSONResponse().
			Status(http.StatusCreated).
			Body(map[string]any{"expenses": toExpenseResponses(created)}).
			Write(w)
		return
	}

	e, err := s.deps.Entries.CreateExpense(ctx, owner, p, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.LogLedgerWrite(ctx, log.OpCreate, owner, p.String(), e.ID)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/"+e.ID).
		Body(toExpenseResponse(e)).
		Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req patchExpenseRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	owner := ownerFromContext(ctx)
	e, err := s.deps.Entries.UpdateExpense(ctx, owner, r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.LogLedgerWrite(ctx, log.OpUpdate, owner, e.Period.String(), e.ID)
	NewJSONResponse().Body(toExpenseResponse(e)).Write(w)
}

func (s *Server) handleDuplicateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)
	e, err := s.deps.Entries.DuplicateExpense(ctx, owner, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.LogLedgerWrite(ctx, log.OpDuplicate, owner, e.Period.String(), e.ID)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/expenses/"+e.ID).
		Body(toExpenseResponse(e)).
		Write(w)
}

// handleDeleteExpense deletes one expense, or its whole installment sequence
// with ?delete_all=true.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)
	id := r.PathValue("id")
	deleted, err := s.deps.Entries.DeleteExpense(ctx, owner, id, queryBool(r, "delete_all"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.LogLedgerWrite(ctx, log.OpDelete, owner, "", id)
	NewJSONResponse().Body(map[string]int{"deleted": deleted}).Write(w)
}
