// Package server exposes the chat gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/httperr"
	"github.com/chatgate/chatgate/internal/logger"
	"github.com/chatgate/chatgate/web"
)

// ChatService is the agent-facing contract the gateway needs.
type ChatService interface {
	SendMessage(ctx context.Context, prompt, threadID string) (string, error)
}

// Handler serves the chat gateway endpoints and the embedded UI.
type Handler struct {
	svc ChatService
	cfg *config.Config
}

// NewHandler creates the gateway handler.
func NewHandler(svc ChatService, cfg *config.Config) *Handler {
	return &Handler{svc: svc, cfg: cfg}
}

// Routes builds the router: chat API, health, embedded single-page UI.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(CORS(h.cfg.Server.AllowedOrigins))

	r.Get("/health", h.handleHealth)
	r.Post("/chat", h.handleChat)
	r.NotFound(web.SPAHandler().ServeHTTP)
	return r
}

// ChatResponse is the POST /chat success body.
type ChatResponse struct {
	Success   bool      `json:"success"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	ThreadID  string    `json:"threadId"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Message:   "chat gateway is running",
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := chiMiddleware.GetReqID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxBodyBytes)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, httperr.Validation("request body must be valid JSON"))
		return
	}

	prompt, problems := ValidateChatRequest(req, h.cfg.Server.MaxPromptLength)
	if len(problems) > 0 {
		writeError(w, httperr.Validation(strings.Join(problems, "; ")))
		return
	}
	prompt = Sanitize(prompt)

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}

	logger.L.Info("chat request", "request_id", reqID, "thread_id", threadID, "prompt_length", len(prompt))

	answer, err := h.svc.SendMessage(r.Context(), prompt, threadID)
	if err != nil {
		he := httperr.From(err)
		logger.L.Error("chat request failed", "request_id", reqID, "thread_id", threadID, "code", he.Code, "duration", time.Since(start), "error", err)
		writeError(w, he)
		return
	}

	logger.L.Info("chat response", "request_id", reqID, "thread_id", threadID, "duration", time.Since(start), "response_length", len(answer))
	writeJSON(w, http.StatusOK, ChatResponse{
		Success:   true,
		Prompt:    prompt,
		Response:  answer,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("failed to encode response", "error", err)
	}
}

// writeError shapes a classified error into the standard envelope.
func writeError(w http.ResponseWriter, he *httperr.Error) {
	writeJSON(w, he.StatusCode, he.Response(time.Now().UTC()))
}
