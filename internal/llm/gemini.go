// Package llm adapts hosted language models to agent.Model.
package llm

import (
	"context"
	"fmt"
	"sort"

	"google.golang.org/genai"

	"github.com/rendis/flowarch/internal/agent"
	"github.com/rendis/flowarch/internal/capability"
	"github.com/rendis/flowarch/pkg/schema"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-3-pro-preview"

// contentGenerator is the slice of *genai.Models the adapter needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini implements agent.Model on the Gemini API.
type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini creates a client for the Gemini API backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"gemini api key is empty: set model.api_key or GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeModel, "create gemini client").WithCause(err)
	}
	return newGemini(client.Models, cfg.Model), nil
}

func newGemini(models contentGenerator, model string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

// Model returns the model name requests are sent to.
func (g *Gemini) Model() string { return g.model }

// Generate implements agent.Model.
func (g *Gemini) Generate(ctx context.Context, req agent.Request) (*agent.Reply, error) {
	config := &genai.GenerateContentConfig{
		Tools: toTools(req.Tools),
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := g.models.GenerateContent(ctx, g.model, toContents(req.History), config)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeModel, err.Error()).WithCause(err)
	}
	return fromResponse(resp)
}

func toContents(history []agent.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		c := &genai.Content{Role: string(turn.Role)}
		for _, p := range turn.Parts {
			var part *genai.Part
			switch {
			case p.Call != nil:
				part = &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   p.Call.ID,
					Name: p.Call.Name,
					Args: p.Call.Args,
				}}
			case p.Response != nil:
				part = &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.Response.ID,
					Name:     p.Response.Name,
					Response: p.Response.Result,
				}}
			case p.Text != "" || len(p.ThoughtSignature) > 0:
				part = &genai.Part{Text: p.Text}
			default:
				continue
			}
			part.ThoughtSignature = p.ThoughtSignature
			c.Parts = append(c.Parts, part)
		}
		if len(c.Parts) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// fromResponse keeps text and function-call parts in order, with their thought
// signatures, and drops thought summaries.
func fromResponse(resp *genai.GenerateContentResponse) (*agent.Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, schema.NewError(schema.ErrCodeModel, "model returned no candidates")
	}
	content := resp.Candidates[0].Content
	reply := &agent.Reply{}
	if content == nil {
		return reply, nil
	}
	for _, p := range content.Parts {
		if p == nil || p.Thought {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			reply.Parts = append(reply.Parts, agent.Part{
				Call: &agent.Call{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: args,
				},
				ThoughtSignature: p.ThoughtSignature,
			})
		case p.Text != "" || len(p.ThoughtSignature) > 0:
			reply.Parts = append(reply.Parts, agent.Part{Text: p.Text, ThoughtSignature: p.ThoughtSignature})
		}
	}
	return reply, nil
}

func toTools(decls []capability.Declaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		fn := &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if props, _ := d.Parameters["properties"].(map[string]any); len(props) > 0 {
			fn.Parameters = toSchema(d.Parameters)
		}
		fns = append(fns, fn)
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

// toSchema converts a JSON Schema fragment into the SDK's schema type. Only
// the keywords the capability declarations use are mapped.
func toSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	s.Enum = stringList(m["enum"])
	s.Required = stringList(m["required"])

	if props, ok := m["properties"].(map[string]any); ok && len(props) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(props))
		order := make([]string, 0, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
				order = append(order, name)
			}
		}
		sort.Strings(order)
		s.PropertyOrdering = order
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}

func stringList(v any) []string {
	switch vals := v.(type) {
	case []string:
		if len(vals) == 0 {
			return nil
		}
		return append([]string(nil), vals...)
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			out = append(out, fmt.Sprint(x))
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}
