package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/docquery/docquery/internal/answer"
	"github.com/docquery/docquery/internal/ingest"
	"github.com/docquery/docquery/internal/llm"
	"github.com/docquery/docquery/internal/log"
	"github.com/docquery/docquery/internal/session"
)

// maxChatBodyBytes bounds the chat request body.
const maxChatBodyBytes = 64 << 10

type handlers struct {
	answerer Answerer
	sessions *session.Store
	pipeline Reindexer
	registry *llm.Registry
	logger   log.Logger
}

// health reports liveness.
func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
}

// models lists the selectable generation models.
func (h *handlers) models(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  h.registry.Models(),
		"default": h.registry.Default(),
	}, h.logger)
}

type chatRequest struct {
	Question  string `json:"question"`
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Answer    string           `json:"answer"`
	Sources   []session.Source `json:"sources"`
	SessionID string           `json:"session_id"`
}

// chat answers one question.
func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", h.logger)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required", h.logger)
		return
	}

	resp, err := h.answerer.Answer(r.Context(), answer.Request{
		Question:  req.Question,
		SessionID: req.SessionID,
		Model:     req.Model,
	})
	if err != nil {
		h.writeAnswerError(w, r, err)
		return
	}

	sources := resp.Sources
	if sources == nil {
		sources = []session.Source{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:    resp.Answer,
		Sources:   sources,
		SessionID: resp.SessionID,
	}, h.logger)
}

// writeAnswerError maps pipeline failures to client responses.
func (h *handlers) writeAnswerError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := requestIDFromContext(r.Context())

	switch {
	case errors.Is(err, llm.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, "unknown_model", err.Error(), h.logger)
	case errors.Is(err, llm.ErrGenerationFailed):
		h.logger.Error("generation failed", "request_id", requestID, "error", err)
		writeError(w, http.StatusBadGateway, "generation_failed",
			"Sorry, the language model is currently unavailable. Please try again.", h.logger)
	default:
		h.logger.Error("chat request failed", "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}

// createSession mints an empty session.
func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.sessions.GetOrCreate(r.Context(), "")
	if err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id}, h.logger)
}

// sessionMessages returns a session's conversation history.
func (h *handlers) sessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	turns, err := h.sessions.History(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "session not found or expired", h.logger)
			return
		}
		h.logger.Error("loading session messages", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}

	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": turns}, h.logger)
}

// reindex rebuilds the vector index from the documentation corpus. The work
// is detached from the request context: a client disconnect mid-rebuild must
// not abandon a half-written index.
func (h *handlers) reindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.pipeline.Reindex(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, ingest.ErrReindexInProgress) {
			writeError(w, http.StatusConflict, "reindex_in_progress",
				"a reindex is already running", h.logger)
			return
		}
		h.logger.Error("reindex failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reindex_failed", "reindex failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"chunks_indexed": n,
	}, h.logger)
}
