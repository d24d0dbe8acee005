package tuning

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"sandcraft.ai/internal/sim/agent"
	"sandcraft.ai/internal/sim/grid"
	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/world"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	WorldID         string `yaml:"world_id"`
	TickRateHz      int    `yaml:"tick_rate_hz"`
	Width           int    `yaml:"width"`
	Height          int    `yaml:"height"`
	Seed            int64  `yaml:"seed"`
	Agents          int    `yaml:"agents"`
	TieBreak        string `yaml:"tie_break"`
	VerticalPolicy  string `yaml:"vertical_policy"`
	FrameEveryTicks int    `yaml:"frame_every_ticks"`

	Spawn      Spawn      `yaml:"spawn"`
	Generation Generation `yaml:"generation"`
	Chances    Chances    `yaml:"chances"`
	Paint      Paint      `yaml:"paint"`
}

type Spawn struct {
	SpeedMinTenths int `yaml:"speed_min_tenths"`
	SpeedMaxTenths int `yaml:"speed_max_tenths"`
	BottomMargin   int `yaml:"bottom_margin"`
}

type Generation struct {
	FloorRatio      float64 `yaml:"floor_ratio"`
	Floor           string  `yaml:"floor"`
	ScatterOneIn    int     `yaml:"scatter_one_in"`
	Scatter         string  `yaml:"scatter"`
	Rects           int     `yaml:"rects"`
	RectMaterial    string  `yaml:"rect_material"`
	RectMinW        int     `yaml:"rect_min_w"`
	RectMaxW        int     `yaml:"rect_max_w"`
	RectMinH        int     `yaml:"rect_min_h"`
	RectMaxH        int     `yaml:"rect_max_h"`
	RectTopMin      int     `yaml:"rect_top_min"`
	RectTopBelowMid int     `yaml:"rect_top_below_mid"`
}

// Chances are 1-in-N odds; see agent.Chances.
type Chances struct {
	IdleExit   int `yaml:"idle_exit"`
	IdleToDig  int `yaml:"idle_to_dig"`
	WalkExit   int `yaml:"walk_exit"`
	WalkToIdle int `yaml:"walk_to_idle"`
	BuildExit  int `yaml:"build_exit"`
	BridgeExit int `yaml:"bridge_exit"`
	DigExit    int `yaml:"dig_exit"`
	Flip       int `yaml:"flip"`
}

// Paint limits apply to PAINT messages from observers.
type Paint struct {
	MaxRadius        int `yaml:"max_radius"`
	MaxPerSecond     int `yaml:"max_per_second"`
	DefaultRadius    int `yaml:"default_radius"`
	EraseExtraRadius int `yaml:"erase_extra_radius"`
}

func Defaults() Tuning {
	gen := grid.DefaultGen()
	ch := agent.DefaultChances()
	return Tuning{
		ProtocolVersion: "1.0",
		WorldID:         "sandbox",
		TickRateHz:      30,
		Width:           640,
		Height:          480,
		Seed:            1337,
		Agents:          25,
		TieBreak:        grid.TieBreakParity.String(),
		VerticalPolicy:  agent.VerticalWrap.String(),
		FrameEveryTicks: 1,
		Spawn: Spawn{
			SpeedMinTenths: 10,
			SpeedMaxTenths: 30,
			BottomMargin:   100,
		},
		Generation: Generation{
			FloorRatio:      gen.FloorRatio,
			Floor:           gen.Floor.String(),
			ScatterOneIn:    gen.ScatterOneIn,
			Scatter:         gen.Scatter.String(),
			Rects:           gen.Rects,
			RectMaterial:    gen.RectMaterial.String(),
			RectMinW:        gen.RectMinW,
			RectMaxW:        gen.RectMaxW,
			RectMinH:        gen.RectMinH,
			RectMaxH:        gen.RectMaxH,
			RectTopMin:      gen.RectTopMin,
			RectTopBelowMid: gen.RectTopBelowMid,
		},
		Chances: Chances{
			IdleExit:   ch.IdleExit,
			IdleToDig:  ch.IdleToDig,
			WalkExit:   ch.WalkExit,
			WalkToIdle: ch.WalkToIdle,
			BuildExit:  ch.BuildExit,
			BridgeExit: ch.BridgeExit,
			DigExit:    ch.DigExit,
			Flip:       ch.Flip,
		},
		Paint: Paint{
			MaxRadius:        32,
			MaxPerSecond:     60,
			DefaultRadius:    8,
			EraseExtraRadius: 2,
		},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Save writes t as YAML, creating parent directories.
func Save(path string, t Tuning) error {
	b, err := yaml.Marshal(t)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (t Tuning) Validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("world size must be positive: %dx%d", t.Width, t.Height)
	}
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	}
	if t.Agents < 0 {
		return fmt.Errorf("agents must be >= 0: %d", t.Agents)
	}
	if _, err := grid.ParseTieBreak(t.TieBreak); err != nil {
		return err
	}
	if _, err := agent.ParseVerticalPolicy(t.VerticalPolicy); err != nil {
		return err
	}
	if t.Spawn.SpeedMinTenths <= 0 || t.Spawn.SpeedMinTenths > t.Spawn.SpeedMaxTenths {
		return fmt.Errorf("spawn speed range invalid: [%d,%d)", t.Spawn.SpeedMinTenths, t.Spawn.SpeedMaxTenths)
	}
	if r := t.Generation.FloorRatio; r <= 0 || r > 1 {
		return fmt.Errorf("generation.floor_ratio must be in (0,1]: %v", r)
	}
	for _, name := range []string{t.Generation.Floor, t.Generation.Scatter, t.Generation.RectMaterial} {
		if _, ok := material.Parse(name); !ok {
			return fmt.Errorf("generation: unknown material %q", name)
		}
	}
	c := t.Chances
	for _, v := range []int{c.IdleExit, c.IdleToDig, c.WalkExit, c.WalkToIdle, c.BuildExit, c.BridgeExit, c.DigExit, c.Flip} {
		if v < 1 {
			return fmt.Errorf("chances must be >= 1 (1-in-N odds): %+v", c)
		}
	}
	if t.Paint.MaxRadius < 0 || t.Paint.DefaultRadius < 0 || t.Paint.DefaultRadius > t.Paint.MaxRadius {
		return fmt.Errorf("paint radii invalid: default=%d max=%d", t.Paint.DefaultRadius, t.Paint.MaxRadius)
	}
	return nil
}

// WorldConfig resolves t into the world's runtime configuration.
func (t Tuning) WorldConfig() (world.WorldConfig, error) {
	if err := t.Validate(); err != nil {
		return world.WorldConfig{}, err
	}
	tie, _ := grid.ParseTieBreak(t.TieBreak)
	vert, _ := agent.ParseVerticalPolicy(t.VerticalPolicy)
	floor, _ := material.Parse(t.Generation.Floor)
	scatter, _ := material.Parse(t.Generation.Scatter)
	rect, _ := material.Parse(t.Generation.RectMaterial)
	g := t.Generation
	c := t.Chances

	return world.WorldConfig{
		ID:                t.WorldID,
		Width:             t.Width,
		Height:            t.Height,
		Seed:              t.Seed,
		TickRateHz:        t.TickRateHz,
		Agents:            t.Agents,
		SpeedMinTenths:    t.Spawn.SpeedMinTenths,
		SpeedMaxTenths:    t.Spawn.SpeedMaxTenths,
		SpawnBottomMargin: t.Spawn.BottomMargin,
		FrameEveryTicks:   t.FrameEveryTicks,
		TieBreak:          tie,
		Gen: grid.GenConfig{
			FloorRatio:      g.FloorRatio,
			Floor:           floor,
			ScatterOneIn:    g.ScatterOneIn,
			Scatter:         scatter,
			Rects:           g.Rects,
			RectMaterial:    rect,
			RectMinW:        g.RectMinW,
			RectMaxW:        g.RectMaxW,
			RectMinH:        g.RectMinH,
			RectMaxH:        g.RectMaxH,
			RectTopMin:      g.RectTopMin,
			RectTopBelowMid: g.RectTopBelowMid,
		},
		Agent: agent.Config{
			Chances: agent.Chances{
				IdleExit:   c.IdleExit,
				IdleToDig:  c.IdleToDig,
				WalkExit:   c.WalkExit,
				WalkToIdle: c.WalkToIdle,
				BuildExit:  c.BuildExit,
				BridgeExit: c.BridgeExit,
				DigExit:    c.DigExit,
				Flip:       c.Flip,
			},
			Vertical: vert,
		},
	}, nil
}
