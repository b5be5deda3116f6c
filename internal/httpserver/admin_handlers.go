package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sahyogai/sahyog-gateway/internal/identity"
)

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.pool.Stats(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "pool stats: "+err.Error(), "internal_error")
		return
	}
	conversations, err := s.convs.Count(r.Context())
	if err != nil {
		s.logf("conversation count failed: %v", err)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"total":         stats.Total,
		"eligible":      stats.Eligible,
		"near_limit":    stats.NearLimit,
		"inactive":      stats.Inactive,
		"conversations": conversations,
		"config": map[string]int{
			"retire_threshold": stats.Config.RetireThreshold,
			"min_pool_size":    stats.Config.MinPoolSize,
			"replenish_batch":  stats.Config.ReplenishBatch,
		},
	})
}

func (s *Server) handlePoolReplenish(w http.ResponseWriter, r *http.Request) {
	created, err := s.pool.Replenish(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "replenish: "+err.Error(), "internal_error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (s *Server) handlePoolCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.pool.Cleanup(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "cleanup: "+err.Error(), "internal_error")
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePoolReset(w http.ResponseWriter, r *http.Request) {
	n, err := s.pool.ResetCounters(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "reset: "+err.Error(), "internal_error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"reset": n})
}

func (s *Server) handleConversationsClear(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerID int64 `json:"owner_id"`
	}
	if r.Body != nil {
		// Empty body means clear everything.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	deleted, err := s.convs.BulkClear(r.Context(), body.OwnerID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "clear conversations: "+err.Error(), "internal_error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// handleUpstreamModels proxies the provider's raw model catalogue, using a
// pooled identity (or an ephemeral token) as the credential.
func (s *Server) handleUpstreamModels(w http.ResponseWriter, r *http.Request) {
	if s.upstream == nil {
		s.respondError(w, http.StatusNotFound, "upstream catalogue unavailable", "not_found")
		return
	}
	token := ""
	if ident, err := s.pool.Acquire(r.Context()); err == nil && ident != nil {
		token = ident.Token
	} else {
		token = identity.NewToken()
	}
	names, err := s.upstream.ListModels(r.Context(), token)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, "list upstream models: "+err.Error(), "upstream_failure")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"models": names})
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.respondError(w, http.StatusNotFound, "usage tracking disabled", "not_found")
		return
	}
	ownerID := int64(0)
	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "owner_id must be an integer", "invalid_request")
			return
		}
		ownerID = n
	}
	sum, err := s.usage.SummarizeOwner(r.Context(), ownerID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "usage summary: "+err.Error(), "internal_error")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"owner_id":        sum.OwnerID,
		"requests":        sum.Requests,
		"total_tokens":    sum.TotalTokens,
		"quota_hits":      sum.QuotaHits,
		"tokens_by_model": sum.TokensByModel,
	})
}
