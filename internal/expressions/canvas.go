package expressions

import (
	"encoding/json"

	"github.com/rendis/flowarch/pkg/schema"
)

// CanvasData converts a snapshot into the plain JSON shape every engine sees:
// {"nodes": [...], "edges": [...]} with numbers as float64, exactly as the
// export file would decode.
func CanvasData(snap schema.Snapshot) map[string]any {
	out := map[string]any{
		"nodes": []any{},
		"edges": []any{},
	}
	raw, err := json.Marshal(snap.Clone())
	if err != nil {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"nodes": []any{}, "edges": []any{}}
	}
	return out
}

// RuleData extends CanvasData with derived collections used by lint rules:
// dangling (edges with a missing endpoint) and isolated (unconnected nodes).
func RuleData(snap schema.Snapshot) map[string]any {
	data := CanvasData(snap)
	data["dangling"] = toJSONList(snap.DanglingEdges())
	data["isolated"] = toJSONList(snap.IsolatedNodes())
	return data
}

// ArgsData normalizes a capability argument map through JSON so that guards
// never see Go-specific numeric types.
func ArgsData(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func toJSONList[T any](items []T) []any {
	out := []any{}
	if len(items) == 0 {
		return out
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
