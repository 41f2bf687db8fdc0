package models

import "time"

// Tier is the set of tasks sharing one priority value.
// Tiers execute strictly in ascending priority order.
type Tier struct {
	// Priority is the shared priority value of every task in the tier.
	Priority int `json:"priority"`
	// Tasks holds the tier's tasks in their original relative order.
	Tasks []TaskDescriptor `json:"tasks"`
}

// Batches splits the tier into consecutive groups of at most limit tasks.
// A limit below 1 is treated as 1.
func (t Tier) Batches(limit int) [][]TaskDescriptor {
	if limit < 1 {
		limit = 1
	}
	var batches [][]TaskDescriptor
	for start := 0; start < len(t.Tasks); start += limit {
		end := start + limit
		if end > len(t.Tasks) {
			end = len(t.Tasks)
		}
		batches = append(batches, t.Tasks[start:end])
	}
	return batches
}

// TierTiming records when a tier ran and how it was batched.
type TierTiming struct {
	Priority   int       `json:"priority"`
	Tasks      int       `json:"tasks"`
	Batches    int       `json:"batches"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// DurationMS is FinishedAt - StartedAt in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// Duration returns the tier's wall-clock duration.
func (t TierTiming) Duration() time.Duration {
	return t.FinishedAt.Sub(t.StartedAt)
}
