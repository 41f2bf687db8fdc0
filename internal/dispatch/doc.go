// Package dispatch runs a planned set of component tasks.
//
// The Engine sequences one run:
//   - Planning: the planner produces task descriptors and shared design tokens
//   - Provisioning: every task gets an isolated git worktree before any task runs
//   - Dispatching: tasks are grouped into priority tiers, and each tier runs in
//     consecutive batches no larger than the concurrency limit
//   - Finalizing: outcomes are folded into a RunReport and handed to report hooks
//
// A task whose workspace could not be provisioned still runs, in the shared
// fallback directory, and its outcome is marked with DegradedIsolation.
// Worker errors, panics and timeouts become Failed outcomes; they never stop
// sibling tasks or later batches.
//
// Example usage:
//
//	engine := dispatch.NewEngine(planner, worker,
//		dispatch.WithProvisioner(prov),
//		dispatch.WithConcurrency(3),
//	)
//	report, err := engine.Run(ctx, "design.yaml")
package dispatch
