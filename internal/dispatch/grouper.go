package dispatch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ShayCichocki/mosaic/internal/graph"
	"github.com/ShayCichocki/mosaic/pkg/models"
)

// GroupByPriority partitions tasks into tiers ordered by ascending priority.
// Tasks keep their input order within a tier. Priorities <= 0 map to
// models.DefaultPriority. Empty input yields an empty slice.
func GroupByPriority(tasks []models.TaskDescriptor) []models.Tier {
	byPriority := make(map[int][]models.TaskDescriptor)
	for _, task := range tasks {
		p := task.EffectivePriority()
		byPriority[p] = append(byPriority[p], task)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	tiers := make([]models.Tier, 0, len(priorities))
	for _, p := range priorities {
		tiers = append(tiers, models.Tier{Priority: p, Tasks: byPriority[p]})
	}
	return tiers
}

// GroupByDependencies layers tasks so every dependency lands in an earlier
// tier. Tier priorities are the 1-based layer numbers; declared priorities
// are ignored. Unknown dependencies and cycles are errors.
func GroupByDependencies(tasks []models.TaskDescriptor) ([]models.Tier, error) {
	g := graph.New()
	g.SetDebugLog(debugLog)
	if err := g.Build(tasks); err != nil {
		if errors.Is(err, graph.ErrCycleDetected) {
			return nil, fmt.Errorf("layer tasks: %w: %v", err, g.FindCycle())
		}
		return nil, fmt.Errorf("layer tasks: %w", err)
	}

	layers, err := g.Layers()
	if err != nil {
		return nil, fmt.Errorf("layer tasks: %w", err)
	}

	tiers := make([]models.Tier, 0, len(layers))
	for i, names := range layers {
		tier := models.Tier{Priority: i + 1}
		for _, name := range names {
			task, _ := g.Task(name)
			tier.Tasks = append(tier.Tasks, task)
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// CheckDependencies reports dependency hints that tier grouping will not
// honor: unknown names, dependencies in the same or a later tier, and cycles.
// A task that depends on itself is reported as a cycle.
// It never fails.
func CheckDependencies(tasks []models.TaskDescriptor) []models.Warning {
	g := graph.New()
	unknown := g.BuildLenient(tasks)

	var warnings []models.Warning
	for _, e := range unknown {
		warnings = append(warnings, models.Warning{
			Kind:     models.WarningDependencyUnknown,
			TaskName: e.Task,
			Message:  fmt.Sprintf("%s depends on unknown task %s", e.Task, e.DependsOn),
		})
	}

	for _, task := range tasks {
		for _, dep := range g.Dependencies(task.Name) {
			if dep == task.Name {
				// Reported as a cycle below.
				continue
			}
			depTask, _ := g.Task(dep)
			if depTask.EffectivePriority() < task.EffectivePriority() {
				continue
			}
			warnings = append(warnings, models.Warning{
				Kind:     models.WarningDependencyOrder,
				TaskName: task.Name,
				Message: fmt.Sprintf("%s (priority %d) depends on %s (priority %d), which is not in an earlier tier",
					task.Name, task.EffectivePriority(), dep, depTask.EffectivePriority()),
			})
		}
	}

	if cycle := g.FindCycle(); cycle != nil {
		warnings = append(warnings, models.Warning{
			Kind:     models.WarningDependencyCycle,
			TaskName: cycle[0],
			Message:  fmt.Sprintf("dependency cycle: %v", cycle),
		})
	}
	return warnings
}
