package api

import (
	"errors"
	"net/http"
	"strings"

	"daily-nudge/internal/model"
	"daily-nudge/internal/planner"
	"daily-nudge/internal/push"
	"daily-nudge/internal/repository"
	"daily-nudge/internal/service"
)

// Default content of an explicit send without title or body.
const (
	testNudgeTitle = "Test nudge"
	testNudgeBody  = "Hello! This is a test notification."
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// CommitRequest is the JSON body of POST /api/plan/commit.
type CommitRequest struct {
	UserID              string `json:"userId"`
	FreeText            string `json:"freeText"`
	Date                string `json:"date,omitempty"`
	WindowStart         string `json:"windowStart,omitempty"`
	WindowEnd           string `json:"windowEnd,omitempty"`
	Timezone            string `json:"timezone,omitempty"`
	IncludeInputPrompts bool   `json:"includeInputPrompts,omitempty"`
}

// CommitResponse is returned by POST /api/plan/commit.
type CommitResponse struct {
	CommittedToday bool       `json:"committedToday"`
	Plan           model.Plan `json:"plan"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.deps.Planner.Commit(r.Context(), service.CommitRequest{
		UserID:     req.UserID,
		FreeText:   req.FreeText,
		TargetDate: req.Date,
		Constraints: planner.Constraints{
			WindowStart:         req.WindowStart,
			WindowEnd:           req.WindowEnd,
			Timezone:            req.Timezone,
			IncludeInputPrompts: req.IncludeInputPrompts,
		},
	})
	if errors.Is(err, service.ErrInvalidRequest) {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("user", req.UserID).Msg("commit plan")
		writeJSONError(w, http.StatusInternalServerError, "commit_failed", "Failed to commit plan")
		return
	}
	writeJSON(w, http.StatusOK, CommitResponse{CommittedToday: res.Committed, Plan: res.Plan})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	userID, date := r.PathValue("userId"), r.PathValue("date")
	plan, err := s.deps.Planner.Plan(r.Context(), userID, date)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "no plan for "+date)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("load plan")
		writeJSONError(w, http.StatusInternalServerError, "load_failed", "Failed to load plan")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	userID, date := r.PathValue("userId"), r.PathValue("date")
	body, err := s.deps.Calendar.Export(r.Context(), userID, date)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "no plan for "+date)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("export calendar")
		writeJSONError(w, http.StatusInternalServerError, "export_failed", "Failed to export plan")
		return
	}
	w.Header().Set("Content-Type", service.CalendarContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+service.CalendarFilename(date)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	pref, err := s.deps.Preferences.Get(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("load preferences")
		writeJSONError(w, http.StatusInternalServerError, "load_failed", "Failed to load preferences")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// PreferencesUpdate is the body of PUT /api/preferences/{userId}. Omitted
// fields keep their current value.
type PreferencesUpdate struct {
	ReminderHour   *int    `json:"reminderHour"`
	ReminderMinute *int    `json:"reminderMinute"`
	Timezone       *string `json:"timezone"`
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	var upd PreferencesUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}

	pref, err := s.deps.Preferences.Get(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("load preferences")
		writeJSONError(w, http.StatusInternalServerError, "load_failed", "Failed to load preferences")
		return
	}
	if upd.ReminderHour != nil {
		pref.ReminderHour = *upd.ReminderHour
	}
	if upd.ReminderMinute != nil {
		pref.ReminderMinute = *upd.ReminderMinute
	}
	if upd.Timezone != nil {
		pref.Timezone = strings.TrimSpace(*upd.Timezone)
	}
	if err := pref.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_preferences", err.Error())
		return
	}
	if err := s.deps.Preferences.Set(r.Context(), userID, pref); err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("save preferences")
		writeJSONError(w, http.StatusInternalServerError, "save_failed", "Failed to save preferences")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// SaveSubscriptionRequest is the body of POST /api/push/save-subscription.
type SaveSubscriptionRequest struct {
	UserID       string              `json:"userId"`
	Subscription *model.Subscription `json:"subscription"`
}

func (s *Server) handleSaveSubscription(w http.ResponseWriter, r *http.Request) {
	var req SaveSubscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" || req.Subscription == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "userId + subscription required")
		return
	}
	sub := req.Subscription.Normalized()
	if err := sub.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_subscription", err.Error())
		return
	}
	if err := s.deps.Subscriptions.Save(r.Context(), req.UserID, sub); err != nil {
		s.log.Error().Err(err).Str("user", req.UserID).Msg("save subscription")
		writeJSONError(w, http.StatusInternalServerError, "save_failed", "Failed to save subscription")
		return
	}
	s.log.Info().Str("user", req.UserID).Str("kind", sub.Kind).Msg("subscription saved")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SendRequest is the body of POST /api/push/send.
type SendRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body,omitempty"`
	URL    string `json:"url,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "userId required")
		return
	}

	p := model.Payload{Title: req.Title, Body: req.Body, URL: req.URL}
	if p.Title == "" {
		p.Title = testNudgeTitle
	}
	if p.Body == "" {
		p.Body = testNudgeBody
	}

	err := s.deps.Notifier.Send(push.WithSource(r.Context(), push.SourceExplicit), req.UserID, p)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, push.ErrNoSubscription):
		writeJSONError(w, http.StatusNotFound, "no_subscription", "no subscription for user")
	default:
		writeJSONError(w, http.StatusBadGateway, "push_failed", err.Error())
	}
}

func (s *Server) handleVAPIDKey(w http.ResponseWriter, _ *http.Request) {
	if s.deps.VAPIDPublicKey == "" {
		writeJSONError(w, http.StatusNotFound, "not_configured", "web push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.deps.VAPIDPublicKey})
}

type suggestionsRequest struct {
	Goals []model.Goal `json:"goals"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	suggestions := s.deps.Coach.Suggest(r.Context(), req.Goals)
	if suggestions == nil {
		suggestions = []model.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.Suggestion{"suggestions": suggestions})
}

type analyzeRequest struct {
	Goal model.Goal `json:"goal"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Coach.Analyze(r.Context(), req.Goal))
}
