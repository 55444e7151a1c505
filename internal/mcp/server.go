package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/notes-rag-server/internal/index"
	"github.com/bull/notes-rag-server/internal/ingest"
	"github.com/bull/notes-rag-server/internal/retrieval"
	"github.com/bull/notes-rag-server/internal/source"
	"github.com/bull/notes-rag-server/internal/tasks"
)

// Ingester stores a document's text, then indexes the stored document at a location.
type Ingester interface {
	Save(doc source.Document) (source.Document, string, error)
	Index(ctx context.Context, doc source.Document, textPath, loc string) (*ingest.Result, error)
}

// Searcher answers similarity queries against the served index.
type Searcher interface {
	Search(ctx context.Context, question string, k int) ([]index.Result, error)
	Status(ctx context.Context) (*retrieval.Status, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Ingester Ingester
	Searcher Searcher
	Queue    *tasks.Queue
	Location string
	TopK     int
	Logger   *slog.Logger
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}

	impl := &mcp.Implementation{
		Name:    "notes-rag-server",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_note",
		Description: "Store a note and index it in the background. Returns a task id; poll task_status to see when the note becomes searchable.",
	}, makeAddNoteHandler(cfg.Ingester, cfg.Queue, cfg.Location))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "task_status",
		Description: "Report the state of a background note ingestion started by add_note.",
	}, makeTaskStatusHandler(cfg.Queue))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_notes",
		Description: "Semantic search over the indexed notes. Returns the most similar note chunks, nearest first.",
	}, makeSearchHandler(cfg.Searcher, topK))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "index_status",
		Description: "Describe the notes index: embedding model, build id and number of indexed chunks.",
	}, makeStatusHandler(cfg.Searcher, cfg.Location))

	logger.Debug("MCP tools registered", "count", 4)

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
