package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// Document is the design manifest format shared by the manifest and Claude planners.
//
//	name: dashboard
//	tokens:
//	  colors:
//	    primary: "#0055ff"
//	components:
//	  - name: button
//	    priority: 1
//	    complexity: low
//	    depends_on: []
//	    spec:
//	      variants: [primary, ghost]
type Document struct {
	Name       string                            `yaml:"name" json:"name"`
	Tokens     map[string]map[string]interface{} `yaml:"tokens" json:"tokens"`
	Components []Component                       `yaml:"components" json:"components"`
}

// Component is one entry in a design manifest.
type Component struct {
	Name       string      `yaml:"name" json:"name"`
	Priority   Priority    `yaml:"priority" json:"priority"`
	Complexity string      `yaml:"complexity" json:"complexity"`
	DependsOn  []string    `yaml:"depends_on" json:"depends_on"`
	Spec       interface{} `yaml:"spec" json:"spec"`
}

// ToPlan converts the document into a validated Plan.
func (d *Document) ToPlan() (*Plan, error) {
	plan := &Plan{SharedConfig: tokensFrom(d.Tokens)}
	for i, c := range d.Components {
		task := models.TaskDescriptor{
			Name:         strings.TrimSpace(c.Name),
			Priority:     c.Priority.Value,
			Dependencies: c.DependsOn,
			Complexity:   models.Complexity(c.Complexity),
		}
		if c.Priority.Invalid != "" {
			plan.Warnings = append(plan.Warnings, models.Warning{
				Kind:     models.WarningInvalidField,
				TaskName: task.Name,
				Message:  fmt.Sprintf("%s: priority %q is not an integer; using the default tier", task.Name, c.Priority.Invalid),
			})
		}
		if c.Spec != nil {
			payload, err := json.Marshal(normalizeYAML(c.Spec))
			if err != nil {
				return nil, fmt.Errorf("%w: component %d spec: %v", ErrPlanningFailed, i, err)
			}
			task.Payload = payload
		}
		plan.Tasks = append(plan.Tasks, task)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// ManifestPlanner reads a YAML or JSON design manifest from disk.
type ManifestPlanner struct {
	baseDir string
}

// NewManifestPlanner creates a planner resolving relative sources against baseDir.
func NewManifestPlanner(baseDir string) *ManifestPlanner {
	return &ManifestPlanner{baseDir: baseDir}
}

// Analyze loads and converts the manifest at source.
func (p *ManifestPlanner) Analyze(ctx context.Context, source string) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := source
	if !filepath.IsAbs(path) && p.baseDir != "" {
		path = filepath.Join(p.baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ErrPlanningFailed, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	debugLog("[planner] manifest %s: %d components, %d token groups", path, len(doc.Components), len(doc.Tokens))
	return doc.ToPlan()
}

// ParseDocument decodes a YAML (or JSON) design manifest.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %v", ErrPlanningFailed, err)
	}
	return &doc, nil
}

func tokensFrom(raw map[string]map[string]interface{}) models.DesignTokens {
	groups := make(map[string]map[string]string, len(raw))
	for g, values := range raw {
		groups[g] = make(map[string]string, len(values))
		for k, v := range values {
			groups[g][k] = fmt.Sprint(v)
		}
	}
	return models.NewDesignTokens(groups)
}

// normalizeYAML converts map[interface{}]interface{} nodes into
// map[string]interface{} so the value can be JSON encoded.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	}
	return v
}
