package world

import (
	"sandcraft.ai/internal/sim/agent"
	"sandcraft.ai/internal/sim/material"
)

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Agents    int `json:"agents"`
	Observers int `json:"observers"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	// LastDigest is the digest reported by the most recent tick.
	LastDigest string `json:"last_digest,omitempty"`

	Census map[string]int `json:"census"`
	Jobs   map[string]int `json:"jobs"`

	PaintedCellsTotal    uint64 `json:"painted_cells_total"`
	AppliedChangesTotal  uint64 `json:"applied_changes_total"`
	RejectedChangesTotal uint64 `json:"rejected_changes_total"`
}

type QueueDepths struct {
	Inbox         int `json:"inbox"`
	ObserverJoin  int `json:"observer_join"`
	ObserverLeave int `json:"observer_leave"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) storeMetrics(stepMS float64, digest string) {
	census := w.grid.Census()
	cm := make(map[string]int, len(census))
	for i, n := range census {
		cm[material.Material(i).String()] = n
	}
	jobs := map[string]int{}
	for _, j := range []agent.Job{agent.Idle, agent.Walk, agent.Build, agent.Bridge, agent.Dig} {
		jobs[j.String()] = 0
	}
	for _, a := range w.agents {
		jobs[a.Job.String()]++
	}

	w.metrics.Store(WorldMetrics{
		Tick:      w.tick.Load(),
		Agents:    len(w.agents),
		Observers: len(w.observers),
		QueueDepths: QueueDepths{
			Inbox:         len(w.inbox),
			ObserverJoin:  len(w.observerJoin),
			ObserverLeave: len(w.observerLeave),
		},
		StepMS:               stepMS,
		LastDigest:           digest,
		Census:               cm,
		Jobs:                 jobs,
		PaintedCellsTotal:    w.paintedTotal,
		AppliedChangesTotal:  w.appliedTotal,
		RejectedChangesTotal: w.rejectedTotal,
	})
}
