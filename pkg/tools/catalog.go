package tools

import (
	"fmt"
	"strings"
	"sync"

	"deskpilot/pkg/llm"

	"github.com/invopop/jsonschema"
)

var (
	catalogOnce sync.Once
	catalog     []llm.ToolSpec
)

// Catalog returns the tool specs offered to the model, one per action, with
// parameter schemas reflected from the action structs.
func Catalog() []llm.ToolSpec {
	catalogOnce.Do(func() {
		r := &jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
			ExpandedStruct:            true,
		}
		catalog = make([]llm.ToolSpec, 0, len(definitions))
		for _, d := range definitions {
			catalog = append(catalog, llm.ToolSpec{
				Name:        d.name,
				Description: d.description,
				Parameters:  reflectParameters(r, d.params()),
			})
		}
	})

	out := make([]llm.ToolSpec, len(catalog))
	copy(out, catalog)
	return out
}

func reflectParameters(r *jsonschema.Reflector, params Action) map[string]any {
	data, err := json.Marshal(r.Reflect(params))
	if err != nil {
		panic(fmt.Sprintf("tools: reflecting %s parameters: %v", params.Name(), err))
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		panic(fmt.Sprintf("tools: decoding %s schema: %v", params.Name(), err))
	}

	delete(schema, "$schema")
	delete(schema, "$id")
	schema["type"] = "object"
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}

// SystemPrompt is the fixed instruction sent with every request.
func SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are operating a computer desktop on behalf of the user. ")
	sb.WriteString("Each new instruction arrives with a screenshot of the current screen. ")
	sb.WriteString("Carry out the instruction by calling the available tools, then briefly report what you did.\n\n")
	sb.WriteString("Available tools:\n")
	for _, d := range definitions {
		fmt.Fprintf(&sb, "- %s: %s\n", d.name, d.description)
	}
	sb.WriteString("\nCoordinates are pixels in the screenshot, measured from the top-left corner. ")
	sb.WriteString("If a tool returns an error, read it and try a different approach.")
	return sb.String()
}
