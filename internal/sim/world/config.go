package world

import (
	"fmt"

	"sandcraft.ai/internal/sim/agent"
	"sandcraft.ai/internal/sim/grid"
)

type WorldConfig struct {
	ID         string
	Width      int
	Height     int
	Seed       int64
	TickRateHz int

	// Agent population. Speeds are drawn in tenths from [SpeedMinTenths, SpeedMaxTenths).
	Agents            int
	SpeedMinTenths    int
	SpeedMaxTenths    int
	SpawnBottomMargin int

	// FrameEveryTicks is the default observer frame cadence.
	FrameEveryTicks int

	TieBreak grid.TieBreak
	Gen      grid.GenConfig
	Agent    agent.Config
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "sandbox"
	}
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 30
	}
	if c.Agents < 0 {
		c.Agents = 0
	}
	if c.SpeedMinTenths <= 0 {
		c.SpeedMinTenths = 10
	}
	if c.SpeedMaxTenths <= 0 {
		c.SpeedMaxTenths = 30
	}
	if c.SpawnBottomMargin < 0 {
		c.SpawnBottomMargin = 0
	}
	if c.FrameEveryTicks <= 0 {
		c.FrameEveryTicks = 1
	}
	if c.Gen == (grid.GenConfig{}) {
		c.Gen = grid.DefaultGen()
	}
	if c.Agent == (agent.Config{}) {
		c.Agent = agent.DefaultConfig()
	}
}

func (c WorldConfig) validate() error {
	if c.SpeedMinTenths > c.SpeedMaxTenths {
		return fmt.Errorf("speed range inverted: min=%d max=%d", c.SpeedMinTenths, c.SpeedMaxTenths)
	}
	if !c.Gen.Floor.Valid() || !c.Gen.Scatter.Valid() || !c.Gen.RectMaterial.Valid() {
		return fmt.Errorf("generator references an unknown material")
	}
	if c.TieBreak != grid.TieBreakParity && c.TieBreak != grid.TieBreakRandom {
		return fmt.Errorf("unknown tie break %d", c.TieBreak)
	}
	return nil
}
