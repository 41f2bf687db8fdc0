package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultPriority is the tier assigned to tasks whose priority is absent or invalid.
const DefaultPriority = 1

// Complexity is an informational sizing hint produced by the planner.
// It is never used for scheduling decisions.
type Complexity string

const (
	// ComplexityLow is for small, self-contained components.
	ComplexityLow Complexity = "low"
	// ComplexityMedium is the default sizing.
	ComplexityMedium Complexity = "medium"
	// ComplexityHigh is for composite components with many variants.
	ComplexityHigh Complexity = "high"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// TaskDescriptor describes one independently schedulable unit of work.
// Descriptors are produced once per run by the planner and never mutated.
type TaskDescriptor struct {
	// Name is unique within a run. It keys the task's workspace and revision line.
	Name string `json:"name" yaml:"name"`
	// Priority is the tier key. Lower values are scheduled earlier.
	// Values <= 0 are treated as absent and mapped to DefaultPriority.
	Priority int `json:"priority" yaml:"priority"`
	// Dependencies names tasks that should conceptually precede this one.
	// They are advisory unless strict dependency tiering is enabled.
	Dependencies []string `json:"dependencies,omitempty" yaml:"depends_on,omitempty"`
	// Complexity is an informational hint.
	Complexity Complexity `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	// Payload is forwarded to the worker unchanged.
	Payload json.RawMessage `json:"payload,omitempty" yaml:"-"`
}

// EffectivePriority returns the priority used for tier grouping.
func (t TaskDescriptor) EffectivePriority() int {
	if t.Priority <= 0 {
		return DefaultPriority
	}
	return t.Priority
}

// DependsOn reports whether name is listed as a dependency.
func (t TaskDescriptor) DependsOn(name string) bool {
	for _, dep := range t.Dependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// Validate checks the descriptor's own fields. Only a missing name is fatal;
// hints such as complexity or a self-dependency are reported elsewhere.
func (t TaskDescriptor) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name is required")
	}
	return nil
}

// NormalizeDescriptors clears complexity hints that are not a known value
// and returns one invalid_field warning per cleared hint.
func NormalizeDescriptors(tasks []TaskDescriptor) []Warning {
	var warnings []Warning
	for i := range tasks {
		c := Complexity(strings.ToLower(strings.TrimSpace(string(tasks[i].Complexity))))
		if c == "" || c.Valid() {
			tasks[i].Complexity = c
			continue
		}
		warnings = append(warnings, Warning{
			Kind:     WarningInvalidField,
			TaskName: tasks[i].Name,
			Message:  fmt.Sprintf("%s: unknown complexity %q ignored", tasks[i].Name, tasks[i].Complexity),
		})
		tasks[i].Complexity = ""
	}
	return warnings
}

// ValidateDescriptors checks every descriptor and rejects duplicate names.
func ValidateDescriptors(tasks []TaskDescriptor) error {
	seen := make(map[string]bool, len(tasks))
	for i, task := range tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		if seen[task.Name] {
			return fmt.Errorf("duplicate task name %q", task.Name)
		}
		seen[task.Name] = true
	}
	return nil
}

// TaskNames returns the names of the given descriptors in order.
func TaskNames(tasks []TaskDescriptor) []string {
	names := make([]string, len(tasks))
	for i, task := range tasks {
		names[i] = task.Name
	}
	return names
}
