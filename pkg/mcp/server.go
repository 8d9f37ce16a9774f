// Package mcp exposes a flowarch session to external agents over the Model
// Context Protocol: the six canvas capabilities plus chat, diagram and export
// tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowarch/internal/capability"
	"github.com/rendis/flowarch/internal/session"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Session *session.Session
	Logger  *slog.Logger
	// ASCIIBin optionally names a mermaid-ascii binary for ascii diagrams.
	ASCIIBin string
}

// FlowServer wraps an MCP server with flowarch tool handlers.
type FlowServer struct {
	session   *session.Session
	logger    *slog.Logger
	asciiBin  string
	clients   *ClientRegistry
	notifier  *MCPNotifier
	mcpServer *server.MCPServer
}

// NewFlowServer creates a FlowServer with every tool registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		session:  deps.Session,
		logger:   logger,
		asciiBin: deps.ASCIIBin,
		clients:  NewClientRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"flowarch",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("flowarch keeps a flowchart canvas. Use addNode, updateNode, deleteNode, connectNodes, clearCanvas and getCanvasState to edit it directly, flowarch.chat to ask the built-in architect to draw for you, flowarch.diagram to render the canvas and flowarch.export to fetch it as JSON."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.clients, logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Canvas changes are pushed to clients while it runs.
func (s *FlowServer) Serve(ctx context.Context) error {
	if hub := s.session.Hub(); hub != nil {
		stop, err := s.notifier.Watch(ctx, hub, s.session.ID())
		if err != nil {
			return err
		}
		defer stop()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools pairs every capability declaration with the handler that routes it
// through the session, then appends the session-level tools.
func (s *FlowServer) tools() []server.ServerTool {
	out := make([]server.ServerTool, 0, len(capability.Kinds())+3)
	for _, k := range capability.Kinds() {
		out = append(out, server.ServerTool{Tool: capability.Tool(k), Handler: s.handleCapability(k)})
	}
	return append(out,
		server.ServerTool{Tool: chatTool(), Handler: s.handleChat},
		server.ServerTool{Tool: diagramTool(), Handler: s.handleDiagram},
		server.ServerTool{Tool: exportTool(), Handler: s.handleExport},
	)
}

// --- Tool definitions ---

func chatTool() mcp.Tool {
	return mcp.NewTool("flowarch.chat",
		mcp.WithDescription("Send a message to the Flow Architect, which edits the canvas in response"),
		mcp.WithString("text", mcp.Required(), mcp.Description("What to draw or change")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flowarch.diagram",
		mcp.WithDescription("Render the canvas as Mermaid flowchart syntax, ASCII art or an SVG document"),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "ascii", "svg"),
			mcp.Description("Output format"),
		),
	)
}

func exportTool() mcp.Tool {
	return mcp.NewTool("flowarch.export",
		mcp.WithDescription("Return the canvas in the export format: {nodes, edges}"),
	)
}
