package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"contas/internal/core"
	"contas/internal/log"
	"contas/internal/services"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// ViewBuilder composes the monthly ledger view.
type ViewBuilder interface {
	BuildView(ctx context.Context, ownerID string, p core.Period) (core.MonthlyView, error)
}

// InstallmentReporter reports installment purchase progress.
type InstallmentReporter interface {
	GroupInstallments(ctx context.Context, ownerID string) (core.InstallmentReport, error)
}

// EntryWriter applies user-driven ledger changes.
type EntryWriter interface {
	CreateExpense(ctx context.Context, ownerID string, p core.Period, in services.ExpenseInput) (core.Expense, error)
	CreateInstallmentPlan(ctx context.Context, ownerID string, p core.Period, in services.ExpenseInput) ([]core.Expense, error)
	UpdateExpense(ctx context.Context, ownerID, id string, patch core.ExpensePatch) (core.Expense, error)
	DuplicateExpense(ctx context.Context, ownerID, id string) (core.Expense, error)
	DeleteExpense(ctx context.Context, ownerID, id string, wholeSequence bool) (int, error)
	CreateIncome(ctx context.Context, ownerID string, p core.Period, in services.IncomeInput) (core.Income, error)
	UpdateIncome(ctx context.Context, ownerID, id string, patch core.IncomePatch) (core.Income, error)
	DeleteIncome(ctx context.Context, ownerID, id string) error
}

// Pinger reports whether the ledger store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the API serves from.
type Dependencies struct {
	Views     ViewBuilder
	Reports   InstallmentReporter
	Entries   EntryWriter
	Store     Pinger // optional, used by /readyz
	JWTSecret string
	Logger    *log.Logger
}

type Server struct {
	http.Server
	deps        Dependencies
	auth        *Authenticator
	rateLimiter *rateLimiter
	logger      *log.StructuredLogger

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentHTTP)
	}

	s := &Server{
		deps:        deps,
		auth:        NewAuthenticator(deps.JWTSecret),
		rateLimiter: newRateLimiter(writeLimitPerMinute),
		logger:      log.NewStructuredLogger(deps.Logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.auth.Require(h))
	}
	api("GET /api/months/{year}/{month}", s.handleMonthView)
	api("GET /api/expenses/installments", s.handleInstallmentReport)
	api("POST /api/expenses/{year}/{month}", s.handleCreateExpense)
	api("PATCH /api/expenses/{id}", s.handleUpdateExpense)
	api("DELETE /api/expenses/{id}", s.handleDeleteExpense)
	api("POST /api/expenses/{id}/duplicate", s.handleDuplicateExpense)
	api("POST /api/incomes/{year}/{month}", s.handleCreateIncome)
	api("PATCH /api/incomes/{id}", s.handleUpdateIncome)
	api("DELETE /api/incomes/{id}", s.handleDeleteIncome)

	s.Server = http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// withMiddleware wraps the mux with request tracing, logging, security
// headers and write rate limiting, outermost first.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	h := s.rateLimitWrites(next)
	h = securityHeaders(h)
	h = log.RequestIDMiddleware(requestIDFromContext)(h)
	h = log.Middleware(s.deps.Logger)(h)
	return s.trace(h)
}

// trace assigns the request ID and logs every completed request.
func (s *Server) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = generateRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start), extractClientIP(r))
	})
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "Readiness check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
