package http

import (
	"net/http"

	"contas/internal/log"
)

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request) {
	p, err := pathPeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createIncomeRequest
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
	inc, err := s.deps.Entries.CreateIncome(ctx, owner, p, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.LogLedgerWrite(ctx, log.OpCreate, owner, p.String(), inc.ID)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/incomes/"+inc.ID).
		Body(toIncomeResponse(inc)).
		Write(w)
}

func (s *Server) handleUpdateIncome(w http.ResponseWriter, r *http.Request) {
	var req patchIncomeRequest
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
	inc, err := s.deps.Entries.UpdateIncome(ctx, owner, r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.LogLedgerWrite(ctx, log.OpUpdate, owner, inc.Period.String(), inc.ID)
	NewJSONResponse().Body(toIncomeResponse(inc)).Write(w)
}

func (s *Server) handleDeleteIncome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)
	id := r.PathValue("id")
	if err := s.deps.Entries.DeleteIncome(ctx, owner, id); err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.LogLedgerWrite(ctx, log.OpDelete, owner, "", id)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
