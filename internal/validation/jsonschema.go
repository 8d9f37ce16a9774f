package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowarch/pkg/schema"
)

const snapshotSchemaURL = "https://flowarch.dev/schemas/snapshot.json"

// snapshotSchemaJSON is the JSON Schema for the export/import document.
// Unknown properties are tolerated so files written by other tools still load.
const snapshotSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowarch.dev/schemas/snapshot.json",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "position"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "label": { "type": "string" },
        "position": {
          "type": "object",
          "required": ["x", "y"],
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          }
        },
        "shapeKind": {
          "type": "string",
          "enum": ["process", "decision", "start", "end"]
        },
        "color": { "type": "string" }
      }
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "label": { "type": "string" }
      }
    }
  }
}`

// SnapshotValidator implements Validator. It is safe for concurrent use.
type SnapshotValidator struct {
	snapshotSchema *jsonschema.Schema
}

// NewSnapshotValidator compiles the snapshot schema.
func NewSnapshotValidator() (*SnapshotValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(snapshotSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot schema: %w", err)
	}
	if err := c.AddResource(snapshotSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add snapshot schema resource: %w", err)
	}

	compiled, err := c.Compile(snapshotSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	return &SnapshotValidator{snapshotSchema: compiled}, nil
}

// ValidateSnapshot checks data against the schema plus the structural rules
// JSON Schema cannot express: node ids and edge ids are unique.
func (v *SnapshotValidator) ValidateSnapshot(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return schema.NewError(schema.ErrCodeInvalidFormat, "document is empty")
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return schema.NewError(schema.ErrCodeInvalidFormat, "document is not valid JSON").WithCause(err)
	}
	if err := v.snapshotSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}

	var snap schema.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return schema.NewError(schema.ErrCodeInvalidFormat, "document does not decode as a snapshot").WithCause(err)
	}
	return checkUniqueIDs(snap)
}

// DecodeSnapshot validates data and returns the snapshot with defaults
// applied: missing shape kinds become process, colors are normalized.
func (v *SnapshotValidator) DecodeSnapshot(data []byte) (schema.Snapshot, error) {
	if err := v.ValidateSnapshot(data); err != nil {
		return schema.Snapshot{}, err
	}

	var snap schema.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return schema.Snapshot{}, schema.NewError(schema.ErrCodeInvalidFormat, "document does not decode as a snapshot").WithCause(err)
	}
	snap = snap.Clone()
	for i := range snap.Nodes {
		if snap.Nodes[i].ShapeKind == "" {
			snap.Nodes[i].ShapeKind = schema.ShapeProcess
		}
		snap.Nodes[i].Color = schema.NormalizeColor(snap.Nodes[i].Color)
	}
	return snap, nil
}

func checkUniqueIDs(snap schema.Snapshot) error {
	seen := make(map[string]struct{}, len(snap.Nodes))
	for i, n := range snap.Nodes {
		if _, exists := seen[n.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeInvalidFormat, "duplicate node id %q", n.ID).
				WithDetails(map[string]any{"path": fmt.Sprintf("/nodes/%d/id", i)})
		}
		seen[n.ID] = struct{}{}
	}

	seen = make(map[string]struct{}, len(snap.Edges))
	for i, e := range snap.Edges {
		if _, exists := seen[e.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeInvalidFormat, "duplicate edge id %q", e.ID).
				WithDetails(map[string]any{"path": fmt.Sprintf("/edges/%d/id", i)})
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// toFlowError converts a jsonschema.ValidationError into a FlowError listing
// each leaf violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeInvalidFormat, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeInvalidFormat, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeInvalidFormat, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("invalid format: %d violations", len(violations))
	return schema.NewError(schema.ErrCodeInvalidFormat, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

var _ Validator = (*SnapshotValidator)(nil)
