// Package mcp exposes warden's checkpoints and execution gate as MCP tools,
// so agents running inside an MCP-capable harness submit reviews without a
// bespoke HTTP client.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/wardenhq/warden/internal/domain/decision"
	"github.com/wardenhq/warden/internal/domain/governed"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/service"
)

// CheckpointRunner is the slice of CheckpointService the tools need.
type CheckpointRunner interface {
	SubmitDecision(ctx context.Context, req decision.SubmitRequest) (*decision.Decision, *review.Review, error)
	SubmitPlan(ctx context.Context, req service.PlanSubmission) (*service.PlanResult, error)
	SubmitCompletion(ctx context.Context, req service.CompletionSubmission) (*service.CompletionResult, error)
}

// StatusReader answers task review-status queries.
type StatusReader interface {
	TaskReviewStatus(ctx context.Context, implItemID string) (*governed.ReviewStatus, error)
}

// GateChecker runs pre-execution checks.
type GateChecker interface {
	CheckExecution(ctx context.Context, implItemID string) (*service.GateDecision, error)
}

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
}

// ServerDeps holds the service dependencies injected into tool handlers.
type ServerDeps struct {
	Checkpoints CheckpointRunner
	Status      StatusReader
	Gate        GateChecker
}

// Server wraps an mcp-go server serving warden's governance tools over
// streamable HTTP.
type Server struct {
	cfg        ServerConfig
	deps       ServerDeps
	mcpServer  *mcpserver.MCPServer
	httpServer *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers all tools.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(
			cfg.Name,
			cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves the MCP endpoint in the background.
func (s *Server) Start() error {
	s.httpServer = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the MCP endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// toolResultJSON wraps a JSON payload as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
