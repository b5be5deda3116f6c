package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sahyogai/sahyog-gateway/internal/openai"
)

// HandleChatCompletions is the public entry point registered on the router.
func (s *Server) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	key, err := s.authenticate(r)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, err.Error(), "unauthorized")
		return
	}
	ownerID := int64(0)
	if key != nil {
		ownerID = key.ID
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed request body: "+err.Error(), "invalid_request")
		return
	}

	if req.Stream {
		s.handleChatStream(w, r, reqStart, ownerID, req)
		return
	}

	resp, err := s.relay.Complete(r.Context(), ownerID, req)
	if err != nil {
		s.respondRelayError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
	s.logf("chat.completions total_ms=%d model=%s", time.Since(reqStart).Milliseconds(), req.Model)
}

func (s *Server) handleChatStream(
	w http.ResponseWriter,
	r *http.Request,
	reqStart time.Time,
	ownerID int64,
	req openai.ChatCompletionRequest,
) {
	// Pre-flight failures still get a JSON error, not a broken SSE stream.
	stream, err := s.relay.Stream(r.Context(), ownerID, req)
	if err != nil {
		s.respondRelayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	// First frame tells the caller which conversation id to reuse.
	_, _ = io.WriteString(w, "data: {\"conversation_id\": \""+stream.ConversationID+"\"}\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	enc := json.NewEncoder(w)
	firstDeltaAt := time.Time{}
	for ev := range stream.Events {
		if ev.Err != nil {
			s.logf("chat.completions.stream error: %v", ev.Err)
			_, _ = io.WriteString(w, "data: {\"error\": \"stream error\"}\n\n")
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		if ev.Chunk == nil {
			continue
		}
		if firstDeltaAt.IsZero() {
			firstDeltaAt = time.Now()
		}
		_, _ = io.WriteString(w, "data: ")
		if err := enc.Encode(ev.Chunk); err != nil {
			return
		}
		_, _ = io.WriteString(w, "\n")
		if flusher != nil {
			flusher.Flush()
		}
	}

	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	total := time.Since(reqStart)
	ttfb := time.Duration(0)
	if !firstDeltaAt.IsZero() {
		ttfb = firstDeltaAt.Sub(reqStart)
	}
	s.logf("chat.completions.stream total_ms=%d ttfb_ms=%d model=%s", total.Milliseconds(), ttfb.Milliseconds(), req.Model)
}

// HandleModels lists active model aliases in OpenAI list format. Provider
// names never appear; owned_by carries the alias brand.
func (s *Server) HandleModels(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		s.respondError(w, http.StatusUnauthorized, err.Error(), "unauthorized")
		return
	}

	aliases, err := s.aliases.ListActive(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "list models: "+err.Error(), "internal_error")
		return
	}

	models := make([]openai.Model, 0, len(aliases))
	for _, a := range aliases {
		models = append(models, openai.Model{
			ID:         a.CustomName,
			Object:     "model",
			Created:    a.CreatedAt.Unix(),
			OwnedBy:    a.BrandName,
			Permission: a.PermissionList(),
			Root:       a.CustomName,
		})
	}
	s.respondJSON(w, http.StatusOK, openai.ModelList{Object: "list", Data: models})
}
