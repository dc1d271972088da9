// Package mcpserver exposes replay, probe, diff and abort as MCP tools so an
// agent can drive them over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/api"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/logger"
	"github.com/CodeMonkeyCybersecurity/replayer/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/probe"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
)

const serverInstructions = `Replays captured HTTP requests and compares responses.

Requests are JSON descriptors: {"url": "...", "method": "GET", "header": {...}, "params": {...}, "raw": "..."}.
Use "request" to replay one descriptor, "probe" to substitute candidate values into {FUZZ} and group the
responses, "diff" to compare two descriptors line by line, and "abort" to stop running work.`

// Server wraps the MCP server around a replay service.
type Server struct {
	mcp *mcp.Server
	svc api.Service
	log *logger.Logger
}

// New creates the MCP server with every tool registered.
func New(svc api.Service, version string, log *logger.Logger) *Server {
	s := &Server{
		svc: svc,
		log: log.WithComponent("mcp"),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "replayer",
			Title:   "HTTP Replay MCP Server",
			Version: version,
		},
		&mcp.ServerOptions{
			Instructions: serverInstructions,
		},
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying server (used by tests to attach transports).
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// RunStdio serves over stdin/stdout until ctx ends or the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	s.log.Infow("Serving MCP over stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return textResult(string(data)), nil
}

// errorResult reports a tool failure to the client instead of failing the
// protocol call.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

func parseArgs(req *mcp.CallToolRequest, dst any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, dst); err != nil {
		return fmt.Errorf("parsing tool arguments: %w", err)
	}
	return nil
}

// failure turns a service error into a tool result. Caller mistakes are
// reported plainly; anything else is logged as well.
func (s *Server) failure(tool string, err error) *mcp.CallToolResult {
	var malformed *types.MalformedDescriptorError
	switch {
	case errors.As(err, &malformed),
		errors.Is(err, probe.ErrInvalidRange),
		errors.Is(err, probe.ErrNoValues),
		errors.Is(err, probe.ErrInvalidProbe),
		errors.Is(err, orchestrator.ErrNoStore):
	default:
		s.log.Errorw("Tool failed", "tool", tool, "error", err)
	}
	return errorResult(fmt.Sprintf("%s failed: %v", tool, err))
}
