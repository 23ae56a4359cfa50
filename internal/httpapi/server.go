package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"brokerhub/internal/domain"
	"brokerhub/internal/engine"
	"brokerhub/internal/orders"
)

// SessionServer serves the HTTP API of one session.
type SessionServer struct {
	session *engine.Session
	log     *slog.Logger
}

// NewSessionServer creates a SessionServer for session.
func NewSessionServer(session *engine.Session, log *slog.Logger) *SessionServer {
	if log == nil {
		log = slog.Default()
	}
	return &SessionServer{session: session, log: log.With("component", "http")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *SessionServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/orders/{ref}", s.handleOrder)
	mux.HandleFunc("POST /api/orders", s.handleSubmit)
	mux.HandleFunc("DELETE /api/orders/{ref}", s.handleCancel)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/positions/{symbol}", s.handlePosition)
	mux.HandleFunc("GET /api/account", s.handleAccount)
}

// Handler returns an http.Handler with CORS middleware.
func (s *SessionServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionError maps a session failure to a status code.
func (s *SessionServer) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.log.Warn("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseRef(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ref, err := strconv.ParseInt(r.PathValue("ref"), 10, 64)
	if err != nil || ref <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order ref")
		return 0, false
	}
	return ref, true
}

// handleOrders lists orders; ?active=1 keeps only live ones.
func (s *SessionServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.Order
		err  error
	)
	if r.URL.Query().Get("active") != "" {
		list, err = s.session.ActiveOrders(r.Context())
	} else {
		list, err = s.session.Orders(r.Context())
	}
	if err != nil {
		s.sessionError(w, err)
		return
	}
	out := make([]OrderJSON, 0, len(list))
	for _, o := range list {
		out = append(out, orderJSON(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *SessionServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}
	o, found, err := s.session.Order(r.Context(), ref)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, orderJSON(o))
}

// handleSubmit creates an order. A rejected order is returned with 422 and
// the reason.
func (s *SessionServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	o, err := s.session.Submit(r.Context(), req.orderRequest())
	var verr *orders.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, orderJSON(o))
	case err != nil:
		s.sessionError(w, err)
	default:
		writeJSON(w, http.StatusCreated, orderJSON(o))
	}
}

// handleCancel requests cancellation; the outcome is visible on the order.
func (s *SessionServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}
	if err := s.session.Cancel(r.Context(), ref); err != nil {
		s.sessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *SessionServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	list, err := s.session.Positions(r.Context())
	if err != nil {
		s.sessionError(w, err)
		return
	}
	out := make([]PositionJSON, 0, len(list))
	for _, p := range list {
		out = append(out, positionJSON(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *SessionServer) handlePosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.session.Position(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionJSON(p))
}

func (s *SessionServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	cash, err := s.session.Cash(r.Context())
	if err != nil {
		s.sessionError(w, err)
		return
	}
	value, err := s.session.Value(r.Context())
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountJSON{Account: s.session.Account(), Cash: cash, Value: value})
}
