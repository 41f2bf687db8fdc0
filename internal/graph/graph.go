// Package graph provides a dependency graph over task descriptors.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates a task depends on a name not in the graph.
var ErrUnknownDependency = errors.New("unknown dependency")

// Edge is a single "depends on" relationship.
type Edge struct {
	Task      string
	DependsOn string
}

// DependencyGraph represents the dependency hints between tasks.
// Tasks are nodes, and edges point from a task to the tasks it depends on.
type DependencyGraph struct {
	mu sync.RWMutex
	// order preserves the input order of task names.
	order []string
	// nodes maps task name to the descriptor.
	nodes map[string]models.TaskDescriptor
	// edges maps task name to the names it depends on.
	edges map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]models.TaskDescriptor),
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the graph from the tasks.
// Returns an error if a dependency names an unknown task or a cycle is detected.
func (g *DependencyGraph) Build(tasks []models.TaskDescriptor) error {
	unknown := g.BuildLenient(tasks)
	if len(unknown) > 0 {
		e := unknown[0]
		return fmt.Errorf("task %s depends on %s: %w", e.Task, e.DependsOn, ErrUnknownDependency)
	}
	if g.HasCycle() {
		return ErrCycleDetected
	}
	return nil
}

// BuildLenient constructs the graph, dropping and returning edges to
// unknown tasks instead of failing. Cycles are not checked.
func (g *DependencyGraph) BuildLenient(tasks []models.TaskDescriptor) []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))

	// First pass: register all tasks as nodes.
	for _, task := range tasks {
		if _, seen := g.nodes[task.Name]; !seen {
			g.order = append(g.order, task.Name)
		}
		g.nodes[task.Name] = task
		g.edges[task.Name] = nil
	}

	// Second pass: build edges from dependency hints.
	var unknown []Edge
	for _, task := range tasks {
		seen := make(map[string]bool)
		for _, dep := range task.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, exists := g.nodes[dep]; !exists {
				unknown = append(unknown, Edge{Task: task.Name, DependsOn: dep})
				continue
			}
			g.edges[task.Name] = append(g.edges[task.Name], dep)
		}
	}

	g.debugLog("[graph.Build] edges: %v, unknown: %v", g.edges, unknown)
	return unknown
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	return len(g.FindCycle()) > 0
}

// FindCycle returns the names along one cycle, first name repeated at the end,
// or nil if the graph is acyclic.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) FindCycle() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		colors[name] = 1
		stack = append(stack, name)

		for _, dep := range g.edges[name] {
			switch colors[dep] {
			case 1:
				// Back edge: the cycle is the stack suffix starting at dep.
				for i, n := range stack {
					if n == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						break
					}
				}
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[name] = 2
		return false
	}

	for _, name := range g.order {
		if colors[name] == 0 && visit(name) {
			return cycle
		}
	}
	return nil
}

// Layers groups task names into levels where every task's dependencies are
// in strictly earlier levels. Within a level, names keep input order.
// Returns ErrCycleDetected if the graph is cyclic.
func (g *DependencyGraph) Layers() ([][]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycleDetected, cycle)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	level := make(map[string]int, len(g.nodes))
	var depth func(name string) int
	depth = func(name string) int {
		if d, ok := level[name]; ok {
			return d
		}
		d := 0
		for _, dep := range g.edges[name] {
			if dd := depth(dep) + 1; dd > d {
				d = dd
			}
		}
		level[name] = d
		return d
	}

	var layers [][]string
	for _, name := range g.order {
		d := depth(name)
		for len(layers) <= d {
			layers = append(layers, nil)
		}
		layers[d] = append(layers[d], name)
	}
	return layers, nil
}

// Task returns the descriptor for a name.
func (g *DependencyGraph) Task(name string) (models.TaskDescriptor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.nodes[name]
	return t, ok
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the names the given task depends on.
func (g *DependencyGraph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[name]...)
}

// Dependents returns the names of tasks that depend on the given task, in input order.
func (g *DependencyGraph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, id := range g.order {
		for _, dep := range g.edges[id] {
			if dep == name {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}
