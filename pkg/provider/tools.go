package provider

import "github.com/rhuss/atelier/pkg/tools"

// ToolsFromDefinitions converts executor tool definitions into the form
// sent to the model.
func ToolsFromDefinitions(defs []tools.Definition) []ProviderTool {
	out := make([]ProviderTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, ProviderTool{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}
