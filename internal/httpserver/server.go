package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sahyogai/sahyog-gateway/internal/apikey"
	"github.com/sahyogai/sahyog-gateway/internal/conversation"
	"github.com/sahyogai/sahyog-gateway/internal/httpserver/protocol"
	"github.com/sahyogai/sahyog-gateway/internal/identity"
	"github.com/sahyogai/sahyog-gateway/internal/ledger"
	"github.com/sahyogai/sahyog-gateway/internal/modelalias"
	"github.com/sahyogai/sahyog-gateway/internal/openai"
	"github.com/sahyogai/sahyog-gateway/internal/relay"
	"github.com/sahyogai/sahyog-gateway/internal/version"
)

// UsageReader serves aggregated usage for the admin surface.
type UsageReader interface {
	SummarizeOwner(ctx context.Context, ownerID int64) (*ledger.Summary, error)
}

// ModelLister fetches the provider's raw model catalogue.
type ModelLister interface {
	ListModels(ctx context.Context, token string) ([]string, error)
}

// Config carries the Server's collaborators.
type Config struct {
	Relay         *relay.Relay
	Aliases       modelalias.Store
	Pool          *identity.Manager
	Conversations *conversation.Map
	Usage         UsageReader
	Upstream      ModelLister
	APIKeys       apikey.Store
	AdminKey      string // shared secret for the admin endpoint group
	AuthDisabled  bool
	Logger        *log.Logger
	LogLevel      string
}

// Server exposes the OpenAI-compatible surface and the admin endpoints.
type Server struct {
	relay        *relay.Relay
	aliases      modelalias.Store
	pool         *identity.Manager
	convs        *conversation.Map
	usage        UsageReader
	upstream     ModelLister
	apiKeys      apikey.Store
	adminKey     string
	authDisabled bool
	logger       *log.Logger
	logLevel     string
}

// New constructs a Server with the required dependencies.
func New(cfg Config) *Server {
	return &Server{
		relay:        cfg.Relay,
		aliases:      cfg.Aliases,
		pool:         cfg.Pool,
		convs:        cfg.Conversations,
		usage:        cfg.Usage,
		upstream:     cfg.Upstream,
		apiKeys:      cfg.APIKeys,
		adminKey:     cfg.AdminKey,
		authDisabled: cfg.AuthDisabled,
		logger:       cfg.Logger,
		logLevel:     cfg.LogLevel,
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpoints(r,
		newOpenAIEndpoint(s),
		newAdminEndpoint(s),
		newHealthEndpoint(s),
	)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

// authenticate resolves the Bearer API key on the request. A nil key with a
// nil error means auth is disabled.
func (s *Server) authenticate(r *http.Request) (*apikey.Key, error) {
	if s.authDisabled || s.apiKeys == nil {
		return nil, nil
	}
	header := r.Header.Get("Authorization")
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" || raw == header {
		return nil, errors.New("missing bearer API key")
	}
	key, err := s.apiKeys.FindByKey(r.Context(), raw)
	if err != nil {
		return nil, err
	}
	if key == nil || !key.Active() {
		return nil, errors.New("invalid API key")
	}
	if err := s.apiKeys.Touch(r.Context(), key.ID); err != nil {
		s.debugf("api key touch failed: %v", err)
	}
	return key, nil
}

// wrapAdminHandler guards an admin route with the shared admin key.
func (s *Server) wrapAdminHandler(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" || r.Header.Get("X-Admin-Key") != s.adminKey {
			s.respondError(w, http.StatusUnauthorized, "admin key required", "unauthorized")
			return
		}
		fn(w, r)
	})
}

// HandleHealth reports liveness.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes the OpenAI-style error envelope.
func (s *Server) respondError(w http.ResponseWriter, status int, message, code string) {
	s.respondJSON(w, status, openai.ErrorResponse{
		Error: openai.ErrorDetail{
			Message: message,
			Type:    errorTypeForStatus(status),
			Code:    code,
		},
	})
}

// respondRelayError maps relay errors onto the wire; unrecognised errors
// become a 500.
func (s *Server) respondRelayError(w http.ResponseWriter, err error) {
	var se *relay.StatusError
	if errors.As(err, &se) {
		s.respondError(w, se.Status, se.Message, se.Code)
		return
	}
	s.logf("internal error: %v", err)
	s.respondError(w, http.StatusInternalServerError, "internal error", "internal_error")
}

func errorTypeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

func (s *Server) isDebug() bool { return s.logLevel == "debug" }

func (s *Server) debugf(format string, args ...any) {
	if s.isDebug() && s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
