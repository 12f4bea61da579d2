package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/gametime-hub/gametime-tracker/internal/application/query"
	"github.com/gametime-hub/gametime-tracker/internal/application/tracker"
	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
	"github.com/gametime-hub/gametime-tracker/internal/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// INGEST HANDLERS
// The gateway relay translates raw Discord gateway events into these two
// request shapes and POSTs them here.
// ══════════════════════════════════════════════════════════════════════════════

// voiceEventRequest is the body of POST /v1/events/voice.
type voiceEventRequest struct {
	UserID       string `json:"user_id"`
	CommunityID  string `json:"community_id"`
	DisplayName  string `json:"display_name"`
	ChannelLabel string `json:"channel_label"`
	Joined       bool   `json:"joined"`
}

// activityEntry is one reported activity within an activity snapshot.
type activityEntry struct {
	Label  string `json:"label"`
	IsGame bool   `json:"is_game"`
}

// activityEventRequest is the body of POST /v1/events/activity.
type activityEventRequest struct {
	UserID      string          `json:"user_id"`
	CommunityID string          `json:"community_id"`
	DisplayName string          `json:"display_name"`
	InVoice     bool            `json:"in_voice"`
	Activities  []activityEntry `json:"activities"`
}

func (s *Server) handleVoiceEvent(w http.ResponseWriter, r *http.Request) {
	var req voiceEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("voice", "rejected").Inc()
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	err := s.deps.Tracker.HandleVoiceTransition(r.Context(), tracker.VoiceTransition{
		UserID:       req.UserID,
		CommunityID:  req.CommunityID,
		DisplayName:  req.DisplayName,
		ChannelLabel: req.ChannelLabel,
		Joined:       req.Joined,
	})
	if err != nil {
		s.writeIngestError(w, r, "voice", err)
		return
	}

	metrics.IngestEventsTotal.WithLabelValues("voice", "accepted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleActivityEvent(w http.ResponseWriter, r *http.Request) {
	var req activityEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("activity", "rejected").Inc()
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	activities := make([]shared.Activity, 0, len(req.Activities))
	for _, a := range req.Activities {
		activities = append(activities, shared.Activity{Label: a.Label, IsGame: a.IsGame})
	}

	err := s.deps.Tracker.HandleActivityObservation(r.Context(), tracker.ActivityObservation{
		UserID:      req.UserID,
		CommunityID: req.CommunityID,
		DisplayName: req.DisplayName,
		Activities:  activities,
		InVoice:     req.InVoice,
	})
	if err != nil {
		s.writeIngestError(w, r, "activity", err)
		return
	}

	metrics.IngestEventsTotal.WithLabelValues("activity", "accepted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// writeIngestError maps tracker errors onto ingest responses. Malformed IDs
// are the relay's fault (400); store failures are retryable (503).
func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, kind string, err error) {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) && errors.Is(err, shared.ErrInvalidID) {
		metrics.IngestEventsTotal.WithLabelValues(kind, "rejected").Inc()
		writeJSONError(w, http.StatusBadRequest, "invalid_id", domainErr.Message)
		return
	}

	metrics.IngestEventsTotal.WithLabelValues(kind, "failed").Inc()
	s.logger.Error("ingest event failed",
		"kind", kind,
		"error", err,
		"request_id", getRequestID(r.Context()),
	)
	writeJSONError(w, http.StatusServiceUnavailable, "ingest_failed",
		"Event could not be processed, retry with the same payload")
}

// ══════════════════════════════════════════════════════════════════════════════
// READ API HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	q := query.GetLeaderboardQuery{
		CommunityID: vars["communityID"],
		Game:        r.URL.Query().Get("game"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := parsePositiveInt(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request",
				"limit must be a positive integer")
			return
		}
		q.Limit = limit
	}

	result, err := s.deps.GetLeaderboardHandler.Handle(r.Context(), q)
	if err != nil {
		s.logger.Error("leaderboard query failed",
			"community_id", q.CommunityID, "error", err,
			"request_id", getRequestID(r.Context()))
		writeJSONError(w, http.StatusServiceUnavailable, "query_failed",
			"Leaderboard is temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	q := query.GetProfileQuery{
		CommunityID: vars["communityID"],
		UserID:      vars["userID"],
	}
	if raw := r.URL.Query().Get("top_games"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request",
				"top_games must be a positive integer")
			return
		}
		q.TopGames = n
	}

	result, err := s.deps.GetProfileHandler.Handle(r.Context(), q)
	if errors.Is(err, query.ErrProfileNotFound) {
		writeJSONError(w, http.StatusNotFound, "profile_not_found",
			"No tracked playtime for this player")
		return
	}
	if err != nil {
		s.logger.Error("profile query failed",
			"community_id", q.CommunityID, "user_id", q.UserID, "error", err,
			"request_id", getRequestID(r.Context()))
		writeJSONError(w, http.StatusServiceUnavailable, "query_failed",
			"Profile is temporarily unavailable")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth is the liveness probe: the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	uptime := ""
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).Round(time.Second).String()
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": uptime,
	})
}

// handleReady is the readiness probe: every backing store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.HealthChecks))
	healthy := true
	for name, checker := range s.deps.HealthChecks {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": map[bool]string{true: "ready", false: "degraded"}[healthy],
		"checks": checks,
	})
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}
