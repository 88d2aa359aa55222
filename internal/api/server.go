// Package api exposes the planner over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"daily-nudge/internal/model"
	"daily-nudge/internal/repository"
	"daily-nudge/internal/service"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Planner commits and reads plans.
type Planner interface {
	Commit(ctx context.Context, req service.CommitRequest) (service.CommitResult, error)
	Plan(ctx context.Context, userID, date string) (model.Plan, error)
}

// CalendarExporter renders a stored plan as iCalendar.
type CalendarExporter interface {
	Export(ctx context.Context, userID, date string) ([]byte, error)
}

// Notifier sends a payload to a user right away.
type Notifier interface {
	Send(ctx context.Context, userID string, p model.Payload) error
}

// Coach answers goal coaching requests.
type Coach interface {
	Suggest(ctx context.Context, goals []model.Goal) []model.Suggestion
	Analyze(ctx context.Context, goal model.Goal) model.Insight
}

// Deps are the collaborators behind the HTTP handlers.
type Deps struct {
	Planner       Planner
	Calendar      CalendarExporter
	Preferences   repository.PreferenceStore
	Subscriptions repository.SubscriptionStore
	Notifier      Notifier
	Coach         Coach

	VAPIDPublicKey string
	CORSOrigins    []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server routes API requests.
type Server struct {
	deps Deps
	mux  *http.ServeMux
	log  zerolog.Logger
}

func NewServer(deps Deps, log zerolog.Logger) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux(), log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/plan/commit", s.handleCommit)
	s.mux.HandleFunc("GET /api/plan/{userId}/{date}", s.handleGetPlan)
	s.mux.HandleFunc("GET /api/plan/{userId}/{date}/calendar", s.handleCalendar)

	s.mux.HandleFunc("GET /api/preferences/{userId}", s.handleGetPreferences)
	s.mux.HandleFunc("PUT /api/preferences/{userId}", s.handlePutPreferences)

	s.mux.HandleFunc("POST /api/push/save-subscription", s.handleSaveSubscription)
	s.mux.HandleFunc("POST /api/push/send", s.handleSend)
	s.mux.HandleFunc("GET /api/push/vapid-public-key", s.handleVAPIDKey)

	s.mux.HandleFunc("POST /api/ai/suggestions", s.handleSuggestions)
	s.mux.HandleFunc("POST /api/ai/analyze", s.handleAnalyze)

	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

// Handler returns the routed handler wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(cors(s.deps.CORSOrigins, s.mux))
}

// NewHTTPServer returns an http.Server for addr with conservative timeouts.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Commits may wait for plan generation.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: errorCode, Message: message})
}

// decodeJSON reads a bounded JSON body into v and writes the error reply
// itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "body_too_large", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_json", "Failed to parse request body: "+err.Error())
		return false
	}
	return true
}
