// Package api exposes the cookbook over HTTP and, optionally, MCP stdio.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/depie/maicookbook/internal/conversation"
	"github.com/depie/maicookbook/internal/corpus"
	"github.com/depie/maicookbook/internal/llm"
	"github.com/depie/maicookbook/internal/query"
	"github.com/depie/maicookbook/internal/retrieval"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the handlers need.
type Deps struct {
	Query    *query.Service
	Sessions *conversation.Store
	Corpus   *corpus.Store
}

// NewHandler returns the HTTP API for the cookbook service.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(recoverPanics)

	r.Get("/health", handleHealth(deps))
	r.Post("/chat", handleChat(deps))
	r.Post("/conversations", handleCreateConversation(deps))
	r.Get("/conversations", handleListConversations(deps))
	r.Get("/conversations/{id}/messages", handleConversationMessages(deps))

	return r
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"documents": deps.Corpus.Len(),
		})
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
			return
		}
		if req.SessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request", "message must not be blank")
			return
		}

		reply, err := deps.Query.Ask(r.Context(), req.SessionID, req.Message)
		if err != nil {
			status, kind := classifyError(err)
			httpError(w, status, kind, "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
	}
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summ := deps.Sessions.Create()
		writeJSON(w, http.StatusOK, map[string]string{"conversation_id": summ.ID})
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	type summary struct {
		ID        string `json:"id"`
		StartTime string `json:"start_time"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		live := deps.Sessions.List()
		out := make([]summary, len(live))
		for i, s := range live {
			out[i] = summary{ID: s.ID, StartTime: s.StartedAt.UTC().Format(time.RFC3339)}
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
	}
}

func handleConversationMessages(deps Deps) http.HandlerFunc {
	type entry struct {
		Role      string `json:"role"`
		Text      string `json:"text"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		conv, release, err := deps.Sessions.Get(id)
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "conversation %s not found", id)
			return
		}
		history := make([]entry, 0, conv.Len())
		for msg := range conv.History(-1) {
			history = append(history, entry{
				Role:      string(msg.Role),
				Text:      msg.Text,
				Timestamp: msg.Timestamp.UTC().Format(time.RFC3339Nano),
			})
		}
		release()

		writeJSON(w, http.StatusOK, map[string]any{"history": history})
	}
}

// classifyError maps pipeline errors onto an envelope kind and status code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, conversation.ErrInvalidTurn):
		return http.StatusBadRequest, "invalid_turn"
	case errors.Is(err, retrieval.ErrEmptyCorpus):
		return http.StatusBadGateway, "empty_corpus"
	case errors.Is(err, llm.ErrInvalidResponse):
		return http.StatusBadGateway, "invalid_response"
	case errors.Is(err, llm.ErrUpstream), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// requestLogger logs one line per request with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recoverPanics converts handler panics into the standard error envelope.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", "panic", rec, "path", r.URL.Path)
				httpError(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, kind string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"kind":   kind,
			"detail": msg,
		},
	})
}
