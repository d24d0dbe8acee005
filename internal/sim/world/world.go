package world

import (
	"sync"
	"sync/atomic"

	"sandcraft.ai/internal/sim/agent"
	"sandcraft.ai/internal/sim/grid"
	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/rng"
)

// Independent random streams derived from the world seed.
const (
	streamGen = iota + 1
	streamSpawn
	streamTieBreak
	streamAgents
)

// Paint is a brush stroke queued from outside the world loop. It is applied at the start of the
// next tick.
type Paint struct {
	X int               `json:"x"`
	Y int               `json:"y"`
	R int               `json:"r"`
	M material.Material `json:"m"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TransitionLogger interface {
	WriteTransition(entry TransitionEntry) error
}

type TickLogEntry struct {
	Tick   uint64              `json:"tick"`
	Paints []Paint             `json:"paints,omitempty"`
	Census [material.Count]int `json:"census"`
	Digest string              `json:"digest"`
}

// TransitionEntry records an agent leaving one job for another.
type TransitionEntry struct {
	Tick  uint64 `json:"tick"`
	Agent int    `json:"agent"`
	From  string `json:"from"`
	To    string `json:"to"`
	Pos   [2]int `json:"pos"`
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg WorldConfig

	tick atomic.Uint64

	grid     *grid.Grid
	agents   []*agent.Agent
	agentSrc rng.Source

	inbox         chan Paint
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once

	observers map[string]*observerClient

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger       TickLogger
	transitionLogger TransitionLogger

	paintedTotal  uint64
	appliedTotal  uint64
	rejectedTotal uint64

	metrics atomic.Value
}

func New(cfg WorldConfig) (*World, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	g := grid.New(cfg.Width, cfg.Height)
	g.SetTieBreak(cfg.TieBreak, rng.Derive(cfg.Seed, streamTieBreak))
	g.Generate(rng.Derive(cfg.Seed, streamGen), cfg.Gen)

	w := &World{
		cfg:           cfg,
		grid:          g,
		agentSrc:      rng.Derive(cfg.Seed, streamAgents),
		inbox:         make(chan Paint, 1024),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 256),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	w.spawnAgents()
	w.storeMetrics(0, "")
	return w, nil
}

// spawnAgents places the initial population in the lower half of the world with random speed,
// facing and idle state.
func (w *World) spawnAgents() {
	src := rng.Derive(w.cfg.Seed, streamSpawn)
	w.agents = make([]*agent.Agent, 0, w.cfg.Agents)
	for i := 0; i < w.cfg.Agents; i++ {
		x := float64(src.Intn(w.cfg.Width))
		y := float64(rng.Range(src, w.cfg.Height/2, w.cfg.Height-w.cfg.SpawnBottomMargin))
		speed := float64(rng.Range(src, w.cfg.SpeedMinTenths, w.cfg.SpeedMaxTenths)) / 10
		a := agent.New(x, y, speed)
		a.Config = w.cfg.Agent
		if rng.OneIn(src, 2) {
			a.Dir = agent.West
		}
		if rng.OneIn(src, 2) {
			a.Job = agent.Idle
		}
		w.agents = append(w.agents, a)
	}
}

func (w *World) SetTickLogger(l TickLogger)             { w.tickLogger = l }
func (w *World) SetTransitionLogger(l TransitionLogger) { w.transitionLogger = l }

func (w *World) Inbox() chan<- Paint                                { return w.inbox }
func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig {
	if w == nil {
		return WorldConfig{}
	}
	return w.cfg
}

// Grid exposes the field for tests and offline tools. Not safe while Run is active.
func (w *World) Grid() *grid.Grid { return w.grid }

// Agents returns copies of the agent states in update order. Not safe while Run is active.
func (w *World) Agents() []agent.State {
	out := make([]agent.State, len(w.agents))
	for i, a := range w.agents {
		out[i] = a.State
	}
	return out
}
