package synth

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/PentesterFlow/apiforge/internal/parser"
)

// Properties renders the tool's inputs as JSON-schema properties and the
// list of required names.
func (t Tool) Properties() (map[string]interface{}, []string) {
	props := make(map[string]interface{}, len(t.Input))
	required := make([]string, 0, len(t.Input))
	for _, p := range t.Input {
		prop := map[string]interface{}{
			"description": string(p.Location) + " parameter " + p.Name,
		}
		switch p.Type {
		case parser.TypeUnknown, parser.TypeNone:
			// untyped: any JSON value
		case parser.TypeArray:
			prop["type"] = "array"
			prop["items"] = map[string]interface{}{}
		default:
			prop["type"] = string(p.Type)
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return props, required
}

// InputSchema returns the JSON schema of the tool's arguments.
func (t Tool) InputSchema() map[string]interface{} {
	props, required := t.Properties()
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ToMCP renders t as an MCP tool declaration.
func ToMCP(t Tool) mcp.Tool {
	props, required := t.Properties()
	return mcp.Tool{
		Name:        t.ID,
		Description: t.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}
