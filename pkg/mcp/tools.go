package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowarch/internal/capability"
	"github.com/rendis/flowarch/internal/diagram"
)

// handleCapability returns the handler for one canvas capability. Failures
// come back as tool errors carrying the same {error, code} payload the
// built-in agent sees.
func (s *FlowServer) handleCapability(k capability.Kind) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.captureSession(ctx)

		res, err := s.session.Invoke(ctx, string(k), req.GetArguments())
		if err != nil {
			return errorResult(capability.ErrorPayload(err)), nil
		}
		return marshalResult(res.Map())
	}
}

// handleChat runs one agent turn and returns the transcript entries it produced.
func (s *FlowServer) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}
	s.captureSession(ctx)

	before := len(s.session.Messages())
	out, err := s.session.Submit(ctx, text)
	if err != nil && out.Stop == "" {
		return errorResult(capability.ErrorPayload(err)), nil
	}

	msgs := s.session.Messages()
	result := map[string]any{
		"outcome":  out,
		"messages": msgs[min(before, len(msgs)):],
		"status":   s.session.StatusLine(),
	}
	if err != nil {
		result["error"] = capability.ErrorPayload(err)
	}
	return marshalResult(result)
}

func (s *FlowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != diagram.FormatMermaid && format != diagram.FormatASCII && format != string(diagram.FormatSVG) {
		return mcp.NewToolResultError("format must be mermaid, ascii, or svg"), nil
	}

	out, err := diagram.Render(ctx, s.session.Snapshot(), s.session.Title(), format, s.asciiBin)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram render failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out.Body)), nil
}

func (s *FlowServer) handleExport(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := s.session.ExportJSON()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// captureSession remembers the calling client so canvas changes can be pushed to it.
func (s *FlowServer) captureSession(ctx context.Context) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.clients.Register(session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// errorResult renders a {error, code} payload as a tool error.
func errorResult(payload map[string]any) *mcp.CallToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprint(payload["error"]))
	}
	return mcp.NewToolResultError(string(data))
}
