// Package httpapi exposes the order-routing pipeline over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tradegate/internal/domain"
	"tradegate/internal/ledger"
	"tradegate/internal/router"
	"tradegate/internal/venue"
)

// Server serves the routing HTTP API.
type Server struct {
	router   *router.Router
	registry *venue.Registry
	log      *slog.Logger
}

// NewServer creates the HTTP API server around a router.
func NewServer(rt *router.Router, registry *venue.Registry, log *slog.Logger) *Server {
	return &Server{router: rt, registry: registry, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("GET /api/orders/log", s.handleOrderLog)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", s.handleCancelOrder)
	mux.HandleFunc("POST /api/orders/{id}/notes", s.handleAppendNote)
	mux.HandleFunc("GET /api/executions", s.handleExecutions)
	mux.HandleFunc("GET /api/state", s.handleGetState)
	mux.HandleFunc("PUT /api/state", s.handleSetState)
	mux.HandleFunc("POST /api/accounts/{id}/reset", s.handleResetAccount)
	mux.HandleFunc("GET /api/accounts/{id}/risk", s.handleAccountRisk)
	mux.HandleFunc("GET /api/venues", s.handleVenues)
	mux.HandleFunc("PUT /api/quotes/{symbol}", s.handleUpdateQuote)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeRoutingError maps the routing error taxonomy onto HTTP statuses.
func (s *Server) writeRoutingError(w http.ResponseWriter, err error) {
	var (
		validation     *router.ValidationError
		riskLocked     *router.RiskLockedError
		unknownVenue   *router.UnknownVenueError
		unknownSymbol  *router.UnknownSymbolError
		adapterErr     *router.AdapterError
		adapterTimeout *router.AdapterTimeoutError
		persistence    *router.PersistenceError
		notCancellable *router.NotCancellableError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: validation.Error(), Kind: router.KindValidation,
		})
	case errors.As(err, &riskLocked):
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:  riskLocked.Error(),
			Kind:   router.KindRiskLocked,
			Report: riskLocked.Report,
			Signal: &riskLocked.Signal,
		})
	case errors.As(err, &unknownVenue):
		writeError(w, http.StatusNotFound, ErrorResponse{
			Error: unknownVenue.Error(), Kind: router.KindUnknownVenue,
		})
	case errors.As(err, &unknownSymbol):
		writeError(w, http.StatusNotFound, ErrorResponse{
			Error: unknownSymbol.Error(), Kind: router.KindUnknownSymbol,
		})
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.As(err, &notCancellable):
		writeError(w, http.StatusConflict, ErrorResponse{
			Error: notCancellable.Error(), Kind: router.KindNotCancellable,
		})
	case errors.As(err, &adapterTimeout):
		writeError(w, http.StatusInternalServerError, ErrorResponse{
			Error: adapterTimeout.Error(), Kind: router.KindAdapterTimeout,
		})
	case errors.As(err, &adapterErr):
		writeError(w, http.StatusInternalServerError, ErrorResponse{
			Error: adapterErr.Error(), Kind: router.KindAdapterError,
		})
	case errors.As(err, &persistence):
		s.log.Error("persistence failure", "error", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{
			Error: persistence.Error(), Kind: router.KindPersistence,
		})
	default:
		s.log.Error("unclassified routing error", "error", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid JSON body: " + err.Error(), Kind: router.KindValidation,
		})
		return
	}

	report, err := s.router.SubmitOrder(r.Context(), req.intent())
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	report, err := s.router.CancelOrder(r.Context(), orderID)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	entry, err := s.router.GetOrder(r.Context(), orderID)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAppendNote(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")

	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid JSON body: " + err.Error(), Kind: router.KindValidation,
		})
		return
	}
	if req.Text == "" && len(req.Tags) == 0 {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: "note text or tags required", Kind: router.KindValidation,
		})
		return
	}

	entry, err := s.router.AppendNote(r.Context(), orderID, req.Text, req.Tags)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleOrderLog(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(), Kind: router.KindValidation,
		})
		return
	}

	orders, err := s.router.QueryLog(r.Context(), f)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, OrderLogResponse{Orders: orders, Count: len(orders)})
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(), Kind: router.KindValidation,
		})
		return
	}

	executions, err := s.router.Executions(r.Context(), f)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	if executions == nil {
		executions = []domain.Execution{}
	}
	writeJSON(w, http.StatusOK, ExecutionsResponse{Executions: executions, Count: len(executions)})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.State())
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var state domain.OperatingState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid JSON body: " + err.Error(), Kind: router.KindValidation,
		})
		return
	}
	if err := s.router.SetState(state); err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.router.State())
}

func (s *Server) handleResetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	state := s.router.ResetAccount(accountID)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAccountRisk(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	state, signals, err := s.router.AccountRisk(r.Context(), accountID)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	if signals == nil {
		signals = []domain.RiskSignal{}
	}
	writeJSON(w, http.StatusOK, AccountRiskResponse{State: state, Signals: signals})
}

func (s *Server) handleUpdateQuote(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid JSON body: " + err.Error(), Kind: router.KindValidation,
		})
		return
	}
	if err := s.router.UpdateQuote(symbol, req.Price); err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{Symbol: symbol, Price: req.Price})
}

func (s *Server) handleVenues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VenuesResponse{Venues: s.registry.Names()})
}

// parseFilter extracts the shared ledger query parameters.
func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{
		AccountID:  q.Get("account"),
		Symbol:     q.Get("symbol"),
		Tag:        q.Get("tag"),
		StrategyID: q.Get("strategy"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid from timestamp, want RFC3339")
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid to timestamp, want RFC3339")
		}
		f.To = t
	}
	return f, nil
}
