package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/parleyai/parley/internal/memory"
	"github.com/parleyai/parley/internal/tools"
)

const (
	historyDefaultLimit = 10
	historyMaxLimit     = 50
	excerptChars        = 100
)

// historyEntry is one exchange in the /memory/history response, with
// message and response reduced to excerpts.
type historyEntry struct {
	Msg  string `json:"msg"`
	Resp string `json:"resp"`
	Time string `json:"time"`
}

func (s *Server) handleMemoryHistory(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)

	limit := historyDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, historyMaxLimit)
	}

	w.Header().Set("Content-Type", "application/json")

	if s.store == nil {
		writeJSON(w, map[string]any{
			"user_id": userID,
			"history": []historyEntry{},
			"message": "memory store not configured",
		}, s.logger)
		return
	}

	conversations, err := s.store.RecentConversations(r.Context(), userID, limit)
	if err != nil {
		s.logger.Warn("history read failed", "user_id", userID, "error", err)
		writeJSON(w, map[string]any{
			"user_id": userID,
			"history": []historyEntry{},
			"message": "No history available: " + err.Error(),
		}, s.logger)
		return
	}

	history := make([]historyEntry, 0, len(conversations))
	for _, c := range conversations {
		history = append(history, historyEntry{
			Msg:  excerpt(c.Message),
			Resp: excerpt(c.Response),
			Time: c.Timestamp.Format(time.RFC3339),
		})
	}

	writeJSON(w, map[string]any{
		"user_id": userID,
		"count":   len(history),
		"history": history,
	}, s.logger)
}

func (s *Server) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	w.Header().Set("Content-Type", "application/json")

	if s.store == nil {
		writeJSON(w, map[string]any{
			"user_id":     userID,
			"preferences": map[string]any{},
			"message":     "memory store not configured",
		}, s.logger)
		return
	}

	prefs, err := s.store.GetPreferences(r.Context(), userID)
	if errors.Is(err, memory.ErrNotFound) {
		writeJSON(w, map[string]any{
			"user_id":     userID,
			"preferences": map[string]any{},
			"message":     "No preferences found",
		}, s.logger)
		return
	}
	if err != nil {
		s.logger.Warn("preferences read failed", "user_id", userID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "preferences unavailable")
		return
	}

	writeJSON(w, map[string]any{
		"user_id":     userID,
		"preferences": decodePreferences(prefs.Data),
		"updated_at":  prefs.UpdatedAt.Format(time.RFC3339),
	}, s.logger)
}

// decodePreferences parses the stored payload as JSON when possible
// and falls back to the raw string. The payload is opaque to the
// store; only presentation differs.
func decodePreferences(data string) any {
	var decoded any
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		return data
	}
	return decoded
}

// preferencesRequest is the POST /memory/preferences body. Query
// parameters are accepted too, matching the GET surface.
type preferencesRequest struct {
	UserID      string `json:"user_id"`
	Preferences string `json:"preferences"`
}

func (s *Server) handlePreferencesPost(w http.ResponseWriter, r *http.Request) {
	req := preferencesRequest{
		UserID:      r.URL.Query().Get("user_id"),
		Preferences: r.URL.Query().Get("preferences"),
	}
	if req.Preferences == "" && r.Body != nil {
		// Ignore decode errors; query parameters may carry the request.
		json.NewDecoder(r.Body).Decode(&req)
	}

	if req.UserID == "" {
		req.UserID = "default"
	}
	if req.Preferences == "" {
		s.errorResponse(w, http.StatusBadRequest, "preferences is required")
		return
	}

	w.Header().Set("Content-Type", "application/json")

	status := "Saved"
	if s.store == nil {
		status = "Not saved: memory store not configured"
	} else if err := s.store.UpsertPreferences(r.Context(), req.UserID, req.Preferences); err != nil {
		s.logger.Warn("preferences write failed", "user_id", req.UserID, "error", err)
		status = "Not saved: " + err.Error()
	}

	writeJSON(w, map[string]any{
		"user_id":     req.UserID,
		"status":      status,
		"preferences": req.Preferences,
	}, s.logger)
}

func (s *Server) handleMemoryVerify(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	w.Header().Set("Content-Type", "application/json")

	if s.store == nil {
		writeJSON(w, map[string]any{
			"user_id": userID,
			"status":  "error",
			"error":   "memory store not configured",
		}, s.logger)
		return
	}

	count, err := s.store.CountConversations(r.Context(), userID)
	if err != nil {
		writeJSON(w, map[string]any{
			"user_id": userID,
			"status":  "error",
			"error":   err.Error(),
		}, s.logger)
		return
	}

	var latest map[string]any
	if c, err := s.store.LatestConversation(r.Context(), userID); err == nil {
		latest = map[string]any{
			"message":   c.Message,
			"response":  excerpt(c.Response),
			"timestamp": c.Timestamp.Format(time.RFC3339),
		}
	}

	status := "active"
	if count == 0 {
		status = "no_conversations_yet"
	}

	writeJSON(w, map[string]any{
		"user_id":                   userID,
		"total_conversations_saved": count,
		"latest_conversation":       latest,
		"status":                    status,
		"message":                   fmt.Sprintf("Found %d saved conversation(s) for this user", count),
	}, s.logger)
}

func (s *Server) handleMemoryCheckDB(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	notConnected := func(reason string) {
		writeJSON(w, map[string]any{
			"status":  "not_connected",
			"error":   reason,
			"message": "Database connection failed. Check the store path and permissions.",
		}, s.logger)
	}

	if s.store == nil {
		notConnected("memory store not configured")
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		notConnected(err.Error())
		return
	}

	count, err := s.store.CountConversations(r.Context(), "")
	if err != nil {
		notConnected(err.Error())
		return
	}

	writeJSON(w, map[string]any{
		"status":              "connected",
		"database_path":       s.storeInfo.DatabaseFile(),
		"database_name":       s.storeInfo.Database,
		"total_conversations": count,
		"message":             "Database connection is working",
	}, s.logger)
}

func userIDParam(r *http.Request) string {
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		return userID
	}
	return "default"
}

func excerpt(s string) string {
	if len(s) <= excerptChars {
		return s
	}
	return tools.Truncate(s, excerptChars) + "..."
}
