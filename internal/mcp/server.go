package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MaxResultsLimit caps max_results for a single search_products call.
const MaxResultsLimit = 50

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies. Mirror may be nil.
type Config struct {
	Searcher          ProductSearcher
	Status            StatusSource
	Mirror            PointCounter
	DefaultMaxResults int
	Version           string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	defaultMax := cfg.DefaultMaxResults
	if defaultMax <= 0 {
		defaultMax = 20
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "arbuz-concierge",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "search_products",
		Description: "Search the arbuz.kz grocery catalog semantically. Pass one query per item the user wants; " +
			"results are products currently in stock with price, brand, nutrition, rating and categories.",
	}, makeSearchHandler(cfg.Searcher, defaultMax, MaxResultsLimit))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_catalog_status",
		Description: "Get the current state of the catalog mirror: category, product and embedding counts and refresh staleness.",
	}, makeStatusHandler(cfg.Status, cfg.Mirror, time.Now))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the server over Streamable HTTP. Stateless disables
// session management, which suffices for tool-only servers.
func (s *Server) HTTPHandler(stateless bool) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Stateless: stateless})
}
