package llmservice

import (
	"encoding/json"

	"github.com/wowyuarm/nexus/internal/busmodel"
)

// NormalizeToolCalls converts one provider-specific tool call into the
// bus's canonical shape: {id, type:"function", function:{name, arguments}}.
func NormalizeToolCalls(id, name string, arguments any) busmodel.ToolCall {
	tc := busmodel.ToolCall{ID: id, Type: "function"}
	tc.Function.Name = name
	switch a := arguments.(type) {
	case string:
		tc.Function.Arguments = a
	default:
		if raw, err := json.Marshal(a); err == nil {
			tc.Function.Arguments = string(raw)
		}
	}
	return tc
}

// ToolSpecsToSchema renders a ToolSpec's Parameters map into a JSON
// Schema-ish object suitable for provider adapters that want
// {type, properties, required}.
func ToolSpecsToSchema(spec busmodel.ToolSpec) map[string]any {
	properties := map[string]any{}
	var required []string
	for name, raw := range spec.Parameters {
		paramSpec, _ := raw.(map[string]any)
		properties[name] = map[string]any{
			"type":        paramSpec["type"],
			"description": paramSpec["description"],
		}
		if isRequired, _ := paramSpec["required"].(bool); isRequired {
			required = append(required, name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
