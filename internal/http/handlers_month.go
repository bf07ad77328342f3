package http

import (
	"net/http"
)

// handleMonthView returns the month's ledger, materializing it first.
func (s *Server) handleMonthView(w http.ResponseWriter, r *http.Request) {
	p, err := pathPeriod(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.deps.Views.BuildView(r.Context(), ownerFromContext(r.Context()), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(toMonthlyViewResponse(view)).Write(w)
}

func (s *Server) handleInstallmentReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Reports.GroupInstallments(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(toInstallmentReportResponse(report)).Write(w)
}
