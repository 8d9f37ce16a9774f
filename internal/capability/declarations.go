package capability

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/flowarch/pkg/schema"
)

// Declaration is the provider-neutral schema of one capability. Parameters is
// a JSON Schema object ({type, properties, required}).
type Declaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Tools returns the six capabilities as MCP tool definitions. Every other
// declaration form is derived from these.
func Tools() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(Kinds()))
	for _, k := range Kinds() {
		tools = append(tools, Tool(k))
	}
	return tools
}

// Tool returns the MCP tool definition for k.
func Tool(k Kind) mcp.Tool {
	switch k {
	case AddNode:
		return addNodeTool()
	case UpdateNode:
		return updateNodeTool()
	case DeleteNode:
		return deleteNodeTool()
	case ConnectNodes:
		return connectNodesTool()
	case ClearCanvas:
		return clearCanvasTool()
	case GetCanvasState:
		return getCanvasStateTool()
	}
	panic("capability: no tool for " + string(k))
}

// Declarations returns the neutral form used by model adapters.
func Declarations() []Declaration {
	tools := Tools()
	out := make([]Declaration, 0, len(tools))
	for _, t := range tools {
		params := map[string]any{
			"type":       "object",
			"properties": t.InputSchema.Properties,
		}
		if params["properties"] == nil {
			params["properties"] = map[string]any{}
		}
		if len(t.InputSchema.Required) > 0 {
			params["required"] = t.InputSchema.Required
		}
		out = append(out, Declaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out
}

func shapeKindNames() []string {
	kinds := schema.ShapeKinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

var colorHint = "Semantic color name: " + strings.Join(schema.Colors(), ", ")

func addNodeTool() mcp.Tool {
	return mcp.NewTool(string(AddNode),
		mcp.WithDescription("Adds a new node to the diagram. Returns the generated node id."),
		mcp.WithString("label", mcp.Required(), mcp.Description("Text shown inside the node")),
		mcp.WithNumber("x", mcp.Description("X coordinate (default 100)")),
		mcp.WithNumber("y", mcp.Description("Y coordinate (default 100)")),
		mcp.WithString("type",
			mcp.Enum(shapeKindNames()...),
			mcp.Description("Node shape. decision renders as a diamond (default process)"),
		),
		mcp.WithString("color", mcp.Description(colorHint)),
	)
}

func updateNodeTool() mcp.Tool {
	return mcp.NewTool(string(UpdateNode),
		mcp.WithDescription("Updates an existing node's label, position or color. Omitted fields are left unchanged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the node, as returned by addNode")),
		mcp.WithString("label", mcp.Description("New label")),
		mcp.WithNumber("x", mcp.Description("New X coordinate")),
		mcp.WithNumber("y", mcp.Description("New Y coordinate")),
		mcp.WithString("color", mcp.Description(colorHint)),
	)
}

func deleteNodeTool() mcp.Tool {
	return mcp.NewTool(string(DeleteNode),
		mcp.WithDescription("Removes a node and every edge connected to it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the node to remove")),
	)
}

func connectNodesTool() mcp.Tool {
	return mcp.NewTool(string(ConnectNodes),
		mcp.WithDescription("Creates a directed edge between two existing nodes."),
		mcp.WithString("sourceId", mcp.Required(), mcp.Description("Id of the source node")),
		mcp.WithString("targetId", mcp.Required(), mcp.Description("Id of the target node")),
		mcp.WithString("label", mcp.Description("Optional edge label")),
	)
}

func clearCanvasTool() mcp.Tool {
	return mcp.NewTool(string(ClearCanvas),
		mcp.WithDescription("Removes every node and edge from the canvas."),
	)
}

func getCanvasStateTool() mcp.Tool {
	return mcp.NewTool(string(GetCanvasState),
		mcp.WithDescription("Returns all current nodes and edges, including their ids and positions."),
	)
}
