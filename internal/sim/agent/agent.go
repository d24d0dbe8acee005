// Package agent implements the walkers that climb, dig and build on the grid.
//
// An agent never writes to the grid. Each tick it reads the field left by the automaton pass
// and returns the writes it wants; the driver applies them after every agent has run.
package agent

import (
	"math"

	"sandcraft.ai/internal/sim/grid"
	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/mathx"
	"sandcraft.ai/internal/sim/rng"
)

// Body geometry: (X, Y) is the top-left of a BodySize square; the feet sample the column
// FootX cells in, starting FootY cells down.
const (
	BodySize = 16
	FootX    = 8
	FootY    = 16
)

// Effect footprints.
const (
	digW, digH     = 5, 2
	blockW, blockH = 2, 3
	treeH          = 3
)

// State is everything Step reads and writes.
type State struct {
	X, Y  float64
	VY    float64
	Speed float64
	Dir   Dir
	Job   Job

	// DigOrigin is the top-left of the first rectangle cleared in the current dig.
	DigOrigin  [2]int
	DigStarted bool
}

// Feet returns the upper footprint cell; the lower one is directly beneath it.
func (s State) Feet() (int, int) {
	return int(math.Floor(s.X)) + FootX, int(math.Floor(s.Y)) + FootY
}

type Agent struct {
	State
	Config Config
}

// New returns a walking, east-facing agent.
func New(x, y, speed float64) *Agent {
	return &Agent{
		State: State{
			X:     x,
			Y:     y,
			Speed: speed,
			Dir:   East,
			Job:   Walk,
		},
		Config: DefaultConfig(),
	}
}

func (a *Agent) Pos() (float64, float64) { return a.X, a.Y }

// Update advances the agent one tick and returns its deferred writes in emission order.
func (a *Agent) Update(g grid.Reader, src rng.Source) []grid.Change {
	var out []grid.Change
	a.State, out = Step(a.State, a.Config, src, g)
	return out
}

// Step is the pure per-tick function: job transition, facing flip, physics, job effects,
// wrap. Every draw comes from src, in that order.
func Step(s State, cfg Config, src rng.Source, g grid.Reader) (State, []grid.Change) {
	w, h := g.Width(), g.Height()
	var out []grid.Change

	prev := s.Job
	s.Job = nextJob(s.Job, cfg.Chances, src)
	if prev == Dig && s.Job != Dig {
		if s.DigStarted {
			out = appendRect(out, w, s.DigOrigin[0], s.DigOrigin[1], 1, treeH, material.Tree)
		}
		s.DigStarted = false
	}
	if rng.OneIn(src, cfg.Chances.Flip) {
		s.Dir = s.Dir.Flip()
	}

	step := 0.0
	if s.Job != Idle && s.Job != Dig {
		step = s.Speed * float64(s.Dir)
	}

	fx, fy := s.Feet()
	fx = mathx.Mod(fx, w)
	upper := g.Cell(fx, fy)
	lower := g.Cell(fx, fy+1)
	switch {
	case upper.Solid() && lower.Solid():
		s.Y--
		if upper == material.Wood {
			step = 0
		}
	case upper.Free() && lower.Free():
		s.VY++
		s.Y += s.VY
		if g.Cell(fx, fy+2).Free() {
			step = 0
			s.Y++
		}
	default:
		s.VY = 0
	}
	s.X += step

	fx, fy = s.Feet()
	switch s.Job {
	case Dig:
		x0 := fx
		if s.Dir == West {
			x0 = fx - (digW - 1)
		}
		if !s.DigStarted {
			s.DigOrigin = [2]int{mathx.Mod(x0, w), fy}
			s.DigStarted = true
		}
		out = appendRect(out, w, x0, fy, digW, digH, material.Empty)
		s.VY = 0
	case Build:
		out = appendRect(out, w, blockLeft(fx, s.Dir), fy, blockW, blockH, material.Wood)
	case Bridge:
		out = appendRect(out, w, blockLeft(fx, s.Dir), fy+1, blockW, blockH, material.Wood)
	}

	s.X = mathx.WrapF(s.X, float64(w))
	if s.Y < 0 {
		switch cfg.Vertical {
		case VerticalClamp:
			s.Y = 0
			s.VY = 0
		default:
			s.Y += float64(h)
		}
	}
	return s, out
}

// blockLeft mirrors the build offset about the feet column.
func blockLeft(fx int, d Dir) int {
	if d == West {
		return fx - 4
	}
	return fx + 2
}

// appendRect emits a w×h block row by row; columns wrap around the world width.
func appendRect(out []grid.Change, worldW, x0, y0, w, h int, m material.Material) []grid.Change {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			out = append(out, grid.Change{X: mathx.Mod(x, worldW), Y: y, M: m})
		}
	}
	return out
}

func nextJob(j Job, c Chances, src rng.Source) Job {
	switch j {
	case Idle:
		if rng.OneIn(src, c.IdleExit) {
			if rng.OneIn(src, c.IdleToDig) {
				return Dig
			}
			return Walk
		}
	case Walk:
		if rng.OneIn(src, c.WalkExit) {
			if rng.OneIn(src, c.WalkToIdle) {
				return Idle
			}
			if rng.OneIn(src, 2) {
				return Build
			}
			return Bridge
		}
	case Build:
		if rng.OneIn(src, c.BuildExit) {
			return Idle
		}
	case Bridge:
		if rng.OneIn(src, c.BridgeExit) {
			return Idle
		}
	case Dig:
		if rng.OneIn(src, c.DigExit) {
			return Idle
		}
	default:
		return Idle
	}
	return j
}
