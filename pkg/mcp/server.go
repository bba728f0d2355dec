// Package mcp exposes the acquisition pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/bookfetch/pkg/config"
	"github.com/Sriram-PR/bookfetch/pkg/models"
)

const (
	serverName    = "bookfetch"
	serverVersion = "0.4.0"
)

// Acquirer runs acquisitions on behalf of tool calls
type Acquirer interface {
	Acquire(ctx context.Context, entry models.CatalogEntry) models.Outcome
}

// CacheLister lists provenance records of cached documents
type CacheLister interface {
	List() ([]models.IndexEntry, error)
}

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
}

// Server wraps the MCP server with acquisition tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	acquirer   Acquirer
	cache      CacheLister
	jobManager *JobManager
	jobSlots   *semaphore.Weighted
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig, acquirer Acquirer, cache CacheLister) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if acquirer == nil || cache == nil {
		return nil, fmt.Errorf("acquirer and cache are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	slots := cfg.AppConfig.MaxConcurrentAcquisitions
	if slots <= 0 {
		slots = 1
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		acquirer:   acquirer,
		cache:      cache,
		jobManager: NewJobManager(),
		jobSlots:   semaphore.NewWeighted(int64(slots)),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	// acquire_book - Start (or wait for) an acquisition
	acquireBookTool := mcp.NewTool("acquire_book",
		mcp.WithDescription("Acquire a validated PDF for a catalog entry. Returns a job ID unless wait is set."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Catalog id of the book"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Book title (part of the cache key)"),
		),
		mcp.WithString("author",
			mcp.Description("Book author"),
		),
		mcp.WithString("direct_document",
			mcp.Description("URL expected to serve the document directly"),
		),
		mcp.WithString("landing_page",
			mcp.Description("URL of an HTML page about the book"),
		),
		mcp.WithString("alternate_format",
			mcp.Description("URL of an EPUB edition"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the acquisition finishes and return its outcome"),
		),
	)
	s.mcpServer.AddTool(acquireBookTool, s.handleAcquireBook)

	// get_job_status - Check status of an acquisition job
	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of an acquisition job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by acquire_book"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	// cancel_job - Abort an in-flight acquisition
	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a pending or running acquisition job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by acquire_book"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	// list_cached - List documents in the local cache
	listCachedTool := mcp.NewTool("list_cached",
		mcp.WithDescription("List cached documents with their provenance"),
		mcp.WithString("query",
			mcp.Description("Filter by title or cache key (case-insensitive substring match)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results to return (default: 50, max: 500)"),
		),
	)
	s.mcpServer.AddTool(listCachedTool, s.handleListCached)

	s.log.Infof("Registered %d MCP tools", 4)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels every running job
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}
