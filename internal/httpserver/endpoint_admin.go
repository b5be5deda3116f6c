package httpserver

import (
	"net/http"

	"github.com/sahyogai/sahyog-gateway/internal/httpserver/protocol"
)

type adminEndpoint struct {
	server *Server
}

func newAdminEndpoint(server *Server) protocol.Endpoint {
	return &adminEndpoint{server: server}
}

func (e *adminEndpoint) Name() string { return "admin" }

func (e *adminEndpoint) Routes() []protocol.EndpointRoute {
	s := e.server
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/admin/pool", Handler: s.wrapAdminHandler(s.handlePoolStats)},
		{Method: http.MethodPost, Path: "/admin/pool/replenish", Handler: s.wrapAdminHandler(s.handlePoolReplenish)},
		{Method: http.MethodPost, Path: "/admin/pool/cleanup", Handler: s.wrapAdminHandler(s.handlePoolCleanup)},
		{Method: http.MethodPost, Path: "/admin/pool/reset", Handler: s.wrapAdminHandler(s.handlePoolReset)},
		{Method: http.MethodPost, Path: "/admin/conversations/clear", Handler: s.wrapAdminHandler(s.handleConversationsClear)},
		{Method: http.MethodGet, Path: "/admin/usage", Handler: s.wrapAdminHandler(s.handleUsageSummary)},
		{Method: http.MethodGet, Path: "/admin/upstream/models", Handler: s.wrapAdminHandler(s.handleUpstreamModels)},
	}
}
