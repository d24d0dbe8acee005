package grid

import (
	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/rng"
)

// GenConfig parameterizes procedural world generation.
type GenConfig struct {
	// Rows at or below FloorRatio*H are filled with Floor.
	FloorRatio float64
	Floor      material.Material

	// Above the floor each cell gets Scatter with chance 1/ScatterOneIn.
	ScatterOneIn int
	Scatter      material.Material

	// Rects solid rectangles of RectMaterial, width in [RectMinW, RectMaxW), height in
	// [RectMinH, RectMaxH), top edge in [RectTopMin, H/2+RectTopBelowMid).
	Rects           int
	RectMaterial    material.Material
	RectMinW        int
	RectMaxW        int
	RectMinH        int
	RectMaxH        int
	RectTopMin      int
	RectTopBelowMid int
}

func DefaultGen() GenConfig {
	return GenConfig{
		FloorRatio:      0.75,
		Floor:           material.Wood,
		ScatterOneIn:    5,
		Scatter:         material.Sand,
		Rects:           30,
		RectMaterial:    material.Wood,
		RectMinW:        20,
		RectMaxW:        130,
		RectMinH:        5,
		RectMaxH:        10,
		RectTopMin:      40,
		RectTopBelowMid: 100,
	}
}

// FloorY is the first fully solid row.
func (c GenConfig) FloorY(h int) int {
	r := c.FloorRatio
	if r <= 0 || r > 1 {
		r = 0.75
	}
	return int(r * float64(h))
}

// Generate fills the field procedurally from src. It only writes; markers are left clear.
func (g *Grid) Generate(src rng.Source, cfg GenConfig) {
	floorY := cfg.FloorY(g.h)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			if y >= floorY {
				g.put(x, y, cfg.Floor)
				continue
			}
			if cfg.ScatterOneIn > 0 && rng.OneIn(src, cfg.ScatterOneIn) {
				g.put(x, y, cfg.Scatter)
			}
		}
	}

	topMin := min(cfg.RectTopMin, g.h-1)
	topMax := min(g.h/2+cfg.RectTopBelowMid, g.h)
	for n := 0; n < cfg.Rects; n++ {
		x0 := src.Intn(g.w)
		w := rng.Range(src, cfg.RectMinW, cfg.RectMaxW)
		y0 := rng.Range(src, topMin, topMax)
		h := rng.Range(src, cfg.RectMinH, cfg.RectMaxH)
		g.fillRect(x0, y0, w, h, cfg.RectMaterial)
	}
	g.ResetMoved()
}

func (g *Grid) fillRect(x0, y0, w, h int, m material.Material) {
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			g.put(x, y, m)
		}
	}
}
