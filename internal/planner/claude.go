package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/mosaic/internal/api"
)

const analysisSystemPrompt = `You are a design systems engineer. You break a UI design into
independent, implementable components and extract its design tokens.

Respond with a single JSON object and nothing else:
{
  "name": "<design name>",
  "tokens": {"<group>": {"<token>": "<value>"}},
  "components": [
    {
      "name": "<kebab-case component name, unique>",
      "priority": <1 for primitives, higher for components composed of earlier ones>,
      "complexity": "low|medium|high",
      "depends_on": ["<names of components this one composes>"],
      "spec": {"description": "...", "props": [], "states": [], "notes": "..."}
    }
  ]
}

Rules:
- Every dependency must have a strictly lower priority than its dependents.
- Components with the same priority must not depend on each other.
- Prefer fewer, well-scoped components over many tiny ones.`

// ClaudePlanner asks Claude to decompose a design description into components.
type ClaudePlanner struct {
	runner  *api.Runner
	baseDir string
}

// NewClaudePlanner creates a planner using the given messenger.
// Relative file sources are resolved against baseDir.
func NewClaudePlanner(m api.Messenger, baseDir string) *ClaudePlanner {
	return &ClaudePlanner{runner: api.NewRunner(m), baseDir: baseDir}
}

// Analyze sends the design description to Claude and parses the reply.
// source is either a path to a description file or the description itself.
func (p *ClaudePlanner) Analyze(ctx context.Context, source string) (*Plan, error) {
	description, origin := p.loadDescription(source)
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: empty design description", ErrPlanningFailed)
	}

	prompt := fmt.Sprintf("Design source: %s\n\n%s", origin, description)
	var doc Document
	if err := p.runner.RunJSON(ctx, analysisSystemPrompt, prompt, &doc); err != nil {
		return nil, fmt.Errorf("%w: analysis: %v", ErrPlanningFailed, err)
	}
	debugLog("[planner] claude analysis of %s: %d components", origin, len(doc.Components))
	return doc.ToPlan()
}

func (p *ClaudePlanner) loadDescription(source string) (description, origin string) {
	path := source
	if !filepath.IsAbs(path) && p.baseDir != "" {
		path = filepath.Join(p.baseDir, path)
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		if data, err := os.ReadFile(path); err == nil {
			return string(data), path
		}
	}
	return source, "inline description"
}
