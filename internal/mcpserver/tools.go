package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/CodeMonkeyCybersecurity/replayer/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/replayer/pkg/probe"
)

var descriptorSchema = map[string]any{
	"description": "Request descriptor, as a JSON object or a JSON-encoded string.",
}

var taskSchema = map[string]any{
	"type":        "string",
	"description": "Task whose explored pages and forms are shared. Defaults to \"default\".",
}

func (s *Server) registerTools() {
	s.addRequestTool()
	s.addProbeTool()
	s.addDiffTool()
	s.addAbortTool()
	s.addPagesTool()
}

func (s *Server) addRequestTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "request",
			Title: "Replay Request",
			Description: `Replay one request descriptor, following redirects by hand, and return the final response with the redirect history.

EXAMPLE: {"request": {"url": "https://example.com/profile?id=1", "header": {"Cookie": "sid=abc"}}}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"request": descriptorSchema,
					"task":    taskSchema,
				},
				"required": []string{"request"},
			},
		},
		s.handleRequest,
	)
}

func (s *Server) handleRequest(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Request json.RawMessage `json:"request"`
		Task    string          `json:"task"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	descriptor, err := orchestrator.DescriptorJSON(args.Request)
	if err != nil {
		return s.failure("request", err), nil
	}
	result, err := s.svc.Request(ctx, args.Task, descriptor)
	if err != nil {
		return s.failure("request", err), nil
	}
	return jsonResult(result)
}

func (s *Server) addProbeTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "probe",
			Title: "Differential Probe",
			Description: `Substitute each candidate value into the {FUZZ} marker of a descriptor template, replay every variant, and group candidates by normalized response.

Values are a numeric range ("1-50") or a comma list ("admin,guest"). Type "jwt" rewrites a claim of the given token. Type "lfi" fills the {LFI} marker: an empty value or "DEFAULT" uses the built-in traversal payloads, an http(s) URL uses the suffixes of its path, and anything else is read as a range or list.

RETURNS: one line per response class, "payload [v1,v2]: snippet".

EXAMPLE: {"request": "{\"url\":\"https://example.com/profile?id={FUZZ}\"}", "value": "1-20"}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"request": descriptorSchema,
					"value": map[string]any{
						"type":        "string",
						"description": "Candidate values: a range like \"1-20\" or a comma separated list. For lfi, empty or DEFAULT selects the built-in payloads and a URL selects its path suffixes.",
					},
					"type": map[string]any{
						"type":        "string",
						"enum":        []string{string(probe.KindNormal), string(probe.KindJWT), string(probe.KindLFI)},
						"description": "Probe type. Defaults to normal.",
					},
					"token": map[string]any{
						"type":        "string",
						"description": "JWT to edit (jwt only).",
					},
					"param": map[string]any{
						"type":        "string",
						"description": "Claim to rewrite (jwt only).",
					},
					"task": taskSchema,
				},
				"required": []string{"request"},
			},
		},
		s.handleProbe,
	)
}

func (s *Server) handleProbe(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Request json.RawMessage `json:"request"`
		Value   string          `json:"value"`
		Type    probe.Kind      `json:"type"`
		Token   string          `json:"token"`
		Param   string          `json:"param"`
		Task    string          `json:"task"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	tmpl, err := orchestrator.DescriptorJSON(args.Request)
	if err != nil {
		return s.failure("probe", err), nil
	}
	lines, err := s.svc.Probe(ctx, args.Task, probe.Request{
		Request: string(tmpl),
		Value:   args.Value,
		Type:    args.Type,
		Token:   args.Token,
		Param:   args.Param,
	}, nil)
	if err != nil {
		return s.failure("probe", err), nil
	}
	return jsonResult(map[string]any{"lines": lines})
}

func (s *Server) addDiffTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "diff",
			Title: "Diff Responses",
			Description: `Replay two descriptors and return the lines only the second response has ("+ ") and the lines only the first has ("- ").

EXAMPLE: {"request_a": {"url": "https://example.com/?id=1"}, "request_b": {"url": "https://example.com/?id=2"}}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"request_a": descriptorSchema,
					"request_b": descriptorSchema,
					"task":      taskSchema,
				},
				"required": []string{"request_a", "request_b"},
			},
		},
		s.handleDiff,
	)
}

func (s *Server) handleDiff(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		RequestA json.RawMessage `json:"request_a"`
		RequestB json.RawMessage `json:"request_b"`
		Task     string          `json:"task"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	a, err := orchestrator.DescriptorJSON(args.RequestA)
	if err != nil {
		return s.failure("diff", fmt.Errorf("request_a: %w", err)), nil
	}
	b, err := orchestrator.DescriptorJSON(args.RequestB)
	if err != nil {
		return s.failure("diff", fmt.Errorf("request_b: %w", err)), nil
	}
	result, err := s.svc.Diff(ctx, args.Task, a, b)
	if err != nil {
		return s.failure("diff", err), nil
	}
	return jsonResult(result)
}

func (s *Server) addAbortTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "abort",
			Title: "Abort Control",
			Description: `Set, clear or read the abort flag. While set, probes and exploration stop starting new requests.

EXAMPLE: {"action": "set"}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type":        "string",
						"enum":        []string{"set", "clear", "status"},
						"description": "Defaults to status.",
					},
				},
			},
			Annotations: &mcp.ToolAnnotations{
				IdempotentHint: true,
				Title:          "Abort Control",
			},
		},
		s.handleAbort,
	)
}

func (s *Server) handleAbort(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Action string `json:"action"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	var err error
	switch args.Action {
	case "set":
		err = s.svc.Abort(ctx)
	case "clear":
		err = s.svc.Resume(ctx)
	case "", "status":
	default:
		return errorResult(fmt.Sprintf("unknown action %q, expected set, clear or status", args.Action)), nil
	}
	if err != nil {
		return s.failure("abort", err), nil
	}
	return jsonResult(map[string]bool{"aborted": s.svc.Aborted(ctx)})
}

func (s *Server) addPagesTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "pages",
			Title:       "Explored Pages",
			Description: `List pages stored by exploration for a task, with the forms found so far.`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task": taskSchema,
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum pages to return. Defaults to 100.",
					},
				},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				Title:          "Explored Pages",
			},
		},
		s.handlePages,
	)
}

func (s *Server) handlePages(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Task  string `json:"task"`
		Limit int    `json:"limit"`
	}
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	pages, err := s.svc.Pages(ctx, args.Task, args.Limit)
	if err != nil {
		return s.failure("pages", err), nil
	}
	return jsonResult(map[string]any{
		"pages": pages,
		"forms": s.svc.Forms(args.Task),
	})
}
