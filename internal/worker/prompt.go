package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

const componentSystemPrompt = `You are a senior front-end engineer implementing one component of a
design system. You work only inside the current workspace directory using the
provided tools. Use the shared design tokens instead of hard-coded values.

When you are finished, reply with a short summary of what you built and the
files you created. Do not ask questions; make reasonable assumptions.`

// BuildPrompts returns the system and user prompts for a component task.
func BuildPrompts(task models.TaskDescriptor, shared models.DesignTokens) (system, user string) {
	var b strings.Builder

	fmt.Fprintf(&b, "## Component\n\nImplement the `%s` component.\n", task.Name)
	if task.Complexity != "" {
		fmt.Fprintf(&b, "Expected complexity: %s.\n", task.Complexity)
	}
	if len(task.Dependencies) > 0 {
		fmt.Fprintf(&b, "It composes: %s. Those components are built separately; import them by name.\n",
			strings.Join(task.Dependencies, ", "))
	}

	if len(task.Payload) > 0 {
		b.WriteString("\n## Specification\n\n```json\n")
		b.WriteString(prettyJSON(task.Payload))
		b.WriteString("\n```\n")
	}

	if shared.Len() > 0 {
		b.WriteString("\n## Design tokens\n\n")
		for _, group := range shared.Groups() {
			fmt.Fprintf(&b, "### %s\n", group)
			values := shared.Group(group)
			for _, name := range sortedKeys(values) {
				fmt.Fprintf(&b, "- %s: %s\n", name, values[name])
			}
		}
	}

	return componentSystemPrompt, b.String()
}

func prettyJSON(raw json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
