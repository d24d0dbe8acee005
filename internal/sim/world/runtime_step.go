package world

import (
	"time"

	"sandcraft.ai/internal/sim/agent"
	"sandcraft.ai/internal/sim/grid"
)

// step runs one tick in the fixed order: marker reset, paints, automaton pass, marker reset,
// agents against the settled field, then the agents' writes in agent order. It returns the
// post-tick digest.
func (w *World) step(paints []Paint) string {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Markers left by last tick's agent writes must not block this tick's paints.
	w.grid.ResetMoved()

	recorded := make([]Paint, 0, len(paints))
	for _, p := range paints {
		if !p.M.Valid() {
			continue
		}
		if p.R < 0 {
			p.R = 0
		}
		w.paintedTotal += uint64(w.grid.Brush(p.X, p.Y, p.R, p.M))
		recorded = append(recorded, p)
	}

	w.grid.Update()
	w.grid.ResetMoved()

	var changes []grid.Change
	var transitions []TransitionEntry
	for i, a := range w.agents {
		prev := a.Job
		changes = append(changes, a.Update(w.grid, w.agentSrc)...)
		if a.Job != prev {
			transitions = append(transitions, transitionOf(nowTick, i, prev, a))
		}
	}
	applied := w.grid.Apply(changes)
	w.appliedTotal += uint64(applied)
	w.rejectedTotal += uint64(len(changes) - applied)

	w.stepObservers(nowTick)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:   nowTick,
			Paints: recorded,
			Census: w.grid.Census(),
			Digest: digest,
		})
	}
	if w.transitionLogger != nil {
		for _, e := range transitions {
			_ = w.transitionLogger.WriteTransition(e)
		}
	}

	w.tick.Add(1)
	w.storeMetrics(float64(time.Since(stepStart).Microseconds())/1000.0, digest)
	return digest
}

func transitionOf(tick uint64, idx int, from agent.Job, a *agent.Agent) TransitionEntry {
	fx, fy := a.Feet()
	return TransitionEntry{
		Tick:  tick,
		Agent: idx,
		From:  from.String(),
		To:    a.Job.String(),
		Pos:   [2]int{fx, fy},
	}
}
