// Package api implements the HTTP transport for the agent service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parleyai/parley/internal/agent"
	"github.com/parleyai/parley/internal/buildinfo"
	"github.com/parleyai/parley/internal/config"
	"github.com/parleyai/parley/internal/llm"
	"github.com/parleyai/parley/internal/memory"
	"github.com/parleyai/parley/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	service   *agent.Service
	chat      llm.Client
	registry  *tools.Registry
	store     memory.Store
	storeInfo config.StoreConfig
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates an API server. The store may be nil; memory
// endpoints then report the degraded state instead of failing.
func NewServer(address string, port int, service *agent.Service, chat llm.Client, registry *tools.Registry, store memory.Store, storeInfo config.StoreConfig, logger *slog.Logger) *Server {
	return &Server{
		address:   address,
		port:      port,
		service:   service,
		chat:      chat,
		registry:  registry,
		store:     store,
		storeInfo: storeInfo,
		logger:    logger,
	}
}

// Handler builds the route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Streaming chat (no tools, no memory)
	mux.HandleFunc("GET /chat", s.handleChatSSE)
	mux.HandleFunc("GET /chat/ws", s.handleChatWS)

	// Tool-augmented generation with memory
	mux.HandleFunc("GET /generate", s.handleGenerateGet)
	mux.HandleFunc("POST /generate", s.handleGeneratePost)

	// Tool discovery
	mux.HandleFunc("GET /tools", s.handleTools)

	// Memory endpoints
	mux.HandleFunc("GET /memory/history", s.handleMemoryHistory)
	mux.HandleFunc("GET /memory/preferences", s.handlePreferencesGet)
	mux.HandleFunc("POST /memory/preferences", s.handlePreferencesPost)
	mux.HandleFunc("GET /memory/verify", s.handleMemoryVerify)
	mux.HandleFunc("GET /memory/check-db", s.handleMemoryCheckDB)

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(s.withCORS(mux))
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"name":        "Parley",
		"version":     buildinfo.Version,
		"status":      "ok",
		"tools_count": len(s.registry.Names()),
		"endpoints":   []string{"/chat", "/chat/ws", "/generate", "/tools", "/memory/history", "/memory/preferences", "/memory/verify", "/memory/check-db", "/health"},
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	described := s.registry.Describe()
	list := make([]map[string]any, 0, len(described))
	for _, t := range described {
		list = append(list, map[string]any{
			"name":        t["name"],
			"description": t["description"],
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"total_tools": len(list),
		"tools":       list,
	}, s.logger)
}

// PromptRequest is the POST /generate request body.
type PromptRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id"`
}

func (s *Server) handleGenerateGet(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	userID := r.URL.Query().Get("user_id")
	s.generate(w, r, prompt, userID)
}

func (s *Server) handleGeneratePost(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.generate(w, r, req.Prompt, req.UserID)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, prompt, userID string) {
	if prompt == "" {
		s.errorResponse(w, http.StatusBadRequest, "prompt is required")
		return
	}

	exchange, err := s.service.Generate(r.Context(), prompt, userID)
	if err != nil {
		s.logger.Error("generate failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "generation failed")
		return
	}

	message := "Conversation saved to memory"
	if !exchange.Saved {
		message = "Save failed: " + exchange.SaveError
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"response":        exchange.Answer,
		"user_id":         exchange.UserID,
		"status":          "success",
		"saved_to_memory": exchange.Saved,
		"save_error":      nullableString(exchange.SaveError),
		"message":         message,
	}, s.logger)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
