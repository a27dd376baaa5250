package inferhub

import (
	"fmt"
	"sort"
	"strings"
)

// NoContextMarker replaces the context sections when a map-based prompt has no context.
const NoContextMarker = "[No Context] Interpret the question below and answer appropriately."

// FormatPrompt builds the prompt for a pre-rendered context block, typically
// ContextSet.ContextJSON(). The query is appended verbatim.
func FormatPrompt(project, contextJSON, query string) string {
	var sb strings.Builder
	sb.WriteString("[Project] ")
	sb.WriteString(project)
	sb.WriteString("\n\n[Context]\n")
	sb.WriteString(contextJSON)
	sb.WriteString("\n\n[User Query]\n")
	sb.WriteString(query)
	return sb.String()
}

// FormatPromptMap builds the prompt for a key/value context. Recognized keys are
// "currentStep" (rendered as [Step]) and "schemas" (a map rendered as a bulleted
// [Schemas] block, keys sorted). Other keys are ignored.
func FormatPromptMap(project string, context map[string]any, query string) string {
	var sb strings.Builder
	sb.WriteString("[Project] ")
	sb.WriteString(project)
	sb.WriteString("\n")

	if len(context) > 0 {
		if step, ok := context["currentStep"]; ok && step != nil {
			fmt.Fprintf(&sb, "[Step] %v\n", step)
		}
		if schemas, ok := context["schemas"].(map[string]any); ok {
			sb.WriteString("[Schemas]\n")
			keys := make([]string, 0, len(schemas))
			for k := range schemas {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, "- %s: %v\n", k, schemas[k])
			}
		}
	} else {
		sb.WriteString(NoContextMarker)
		sb.WriteString("\n")
	}

	sb.WriteString("\n[User Query]\n")
	sb.WriteString(query)
	return sb.String()
}
