// Package protocol defines how endpoint groups hand their routes to the
// router. Each group (OpenAI surface, admin, health) implements Endpoint and
// the server mounts whatever it returns.
package protocol

import "net/http"

// EndpointRoute is one mountable route: method, path pattern and handler.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoint is a named group of routes. Name is used for registration logs.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
