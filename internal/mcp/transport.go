package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. The notes tools never call back
	// into the client, so stateless serving works for every tool.
	Stateless bool
}

// NewHTTPHandler serves the MCP server over Streamable HTTP. Mount it at "/mcp"
// next to the health and landing handlers.
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}

	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server.MCPServer()
	}, &mcp.StreamableHTTPOptions{Stateless: opts.Stateless})
}

// NewMux routes the landing page, /health and /mcp.
func NewMux(server *Server, health HealthChecker, backend string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", NewLandingHandler())
	mux.HandleFunc("/health", NewHealthHandler(health, backend))
	mux.Handle("/mcp", NewHTTPHandler(server, nil))
	return mux
}
