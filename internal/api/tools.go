package api

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// ToolKind is the closed set of tools a worker may call.
type ToolKind int

const (
	// ToolUnknown is never dispatched.
	ToolUnknown ToolKind = iota
	ToolRead
	ToolWrite
	ToolEdit
	ToolGlob
	ToolGrep
	ToolListDir
	ToolBash
)

var toolNames = map[ToolKind]string{
	ToolRead:    "Read",
	ToolWrite:   "Write",
	ToolEdit:    "Edit",
	ToolGlob:    "Glob",
	ToolGrep:    "Grep",
	ToolListDir: "ListDir",
	ToolBash:    "Bash",
}

// String returns the wire name of the tool.
func (k ToolKind) String() string {
	if name, ok := toolNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Mutates reports whether the tool writes to the workspace.
func (k ToolKind) Mutates() bool {
	return k == ToolWrite || k == ToolEdit
}

// ParseToolKind maps a wire name to its ToolKind.
func ParseToolKind(name string) (ToolKind, error) {
	for kind, n := range toolNames {
		if n == name {
			return kind, nil
		}
	}
	return ToolUnknown, fmt.Errorf("unknown tool: %s", name)
}

// AllTools is the full tool set, including Bash.
var AllTools = []ToolKind{ToolRead, ToolWrite, ToolEdit, ToolGlob, ToolGrep, ToolListDir, ToolBash}

// FileTools is the tool set without shell access.
var FileTools = []ToolKind{ToolRead, ToolWrite, ToolEdit, ToolGlob, ToolGrep, ToolListDir}

type schemaProps = map[string]interface{}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

// toolSchema returns the API definition for one tool.
func toolSchema(k ToolKind) anthropic.ToolParam {
	switch k {
	case ToolRead:
		return anthropic.ToolParam{
			Name:        k.String(),
			Description: anthropic.String("Read a file in the workspace. Returns contents with line numbers."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProps{
					"file_path": prop("string", "Path to the file, relative to the workspace root"),
					"offset":    prop("integer", "Line number to start reading from (1-indexed, optional)"),
					"limit":     prop("integer", "Maximum number of lines to read (optional)"),
				},
				Required: []string{"file_path"},
			},
		}
	case ToolWrite:
		return anthropic.ToolParam{
			Name:        k.String(),
			Description: anthropic.String("Write content to a file. Creates parent directories if needed."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProps{
					"file_path": prop("string", "Path to the file, relative to the workspace root"),
					"content":   prop("string", "Content to write to the file"),
				},
				Required: []string{"file_path", "content"},
			},
		}
	case ToolEdit:
		return anthropic.ToolParam{
			Name:        k.String(),
			Description: anthropic.String("Edit a file by replacing text. The old_string must be unique unless replace_all is true."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProps{
					"file_path":   prop("string", "Path to the file, relative to the workspace root"),
					"old_string":  prop("string", "The exact text to find and replace"),
					"new_string":  prop("string", "The text to replace it with"),
					"replace_all": prop("boolean", "If true, replace all occurrences (default: false)"),
				},
				Required: []string{"file_path", "old_string", "new_string"},
			},
		}
	case ToolGlob:
		return anthropic.ToolParam{
			Name:        k.String(),
			Description: anthropic.String("Find files matching a glob pattern. Supports ** for recursive matching."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProps{
					"pattern": prop("string", "Glob pattern to match (e.g., 'src/**/*.tsx')"),
					"path":    prop("string", "Directory to search in (optional, defaults to workspace root)"),
				},
				Required: []string{"pattern"},
			},
		}
	case ToolGrep:
		return anthropic.ToolParam{
			Name:        k.String(),
			Description: anthropic.String("Search file contents with a regular expression."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProps{
					"pattern": prop("string", "Regex pattern to search for"),
					"path":    prop("string", "File or directory to search in (optional)"),
					"glob":    prop("string", "Glob pattern to filter files (e.g., '**/*.css')"),
				},
				Required: []string{"pattern"},
			},
		}
	case ToolListDir:
		return anthropic.ToolParam{
			Name:        k.String(),
			Description: anthropic.String("List contents of a directory."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProps{
					"path": prop("string", "Directory path to list"),
				},
				Required: []string{"path"},
			},
		}
	case ToolBash:
		return anthropic.ToolParam{
			Name:        k.String(),
			Description: anthropic.String("Execute a shell command in the workspace and return the output."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schemaProps{
					"command": prop("string", "The command to execute"),
					"timeout": prop("integer", "Timeout in milliseconds (optional, default 120000)"),
				},
				Required: []string{"command"},
			},
		}
	}
	return anthropic.ToolParam{Name: k.String()}
}

// ToolDefinitions returns the API tool schemas for the given kinds.
func ToolDefinitions(kinds ...ToolKind) []anthropic.ToolUnionParam {
	defs := make([]anthropic.ToolUnionParam, 0, len(kinds))
	for _, k := range kinds {
		if k == ToolUnknown {
			continue
		}
		tool := toolSchema(k)
		defs = append(defs, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return defs
}
