// Package planner turns a design source into component tasks and shared design tokens.
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/mosaic/pkg/models"
)

// ErrPlanningFailed indicates the planner could not produce at least one task.
var ErrPlanningFailed = errors.New("planning failed")

// Plan is the output of one analysis: the task list and the read-only shared config.
type Plan struct {
	Tasks        []models.TaskDescriptor
	SharedConfig models.DesignTokens
	// Warnings records planned fields that were replaced by defaults.
	Warnings []models.Warning
}

// Planner analyzes a design source.
type Planner interface {
	Analyze(ctx context.Context, source string) (*Plan, error)
}

// Validate checks the plan is schedulable: at least one task, unique valid names.
// Unknown complexity hints are cleared and recorded in Warnings.
// Failures wrap ErrPlanningFailed.
func (p *Plan) Validate() error {
	if p == nil || len(p.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrPlanningFailed)
	}
	if err := models.ValidateDescriptors(p.Tasks); err != nil {
		return fmt.Errorf("%w: %v", ErrPlanningFailed, err)
	}
	p.Warnings = append(p.Warnings, models.NormalizeDescriptors(p.Tasks)...)
	return nil
}

// Func adapts a function to the Planner interface.
type Func func(ctx context.Context, source string) (*Plan, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, source string) (*Plan, error) {
	return f(ctx, source)
}

// Static returns a planner that always yields the given plan.
func Static(tasks []models.TaskDescriptor, tokens models.DesignTokens) Planner {
	return Func(func(ctx context.Context, source string) (*Plan, error) {
		return &Plan{Tasks: append([]models.TaskDescriptor(nil), tasks...), SharedConfig: tokens}, nil
	})
}
