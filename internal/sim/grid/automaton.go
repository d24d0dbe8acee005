package grid

import "sandcraft.ai/internal/sim/material"

// Update runs one automaton pass in place: rows bottom to top, columns left to right.
// Markers are cleared first; a cell that was moved into during the pass is not processed again.
func (g *Grid) Update() {
	g.ResetMoved()
	for y := g.h - 1; y >= 0; y-- {
		row := y * g.w
		for x := 0; x < g.w; x++ {
			i := row + x
			if g.moved[i] {
				continue
			}
			switch m := g.cells[i]; m {
			case material.Empty, material.Bedrock, material.Wood, material.Tree:
				continue
			case material.Sand, material.AntiSand, material.Water:
				g.stepCell(x, y, i, m)
			}
		}
	}
}

func (g *Grid) stepCell(x, y, i int, m material.Material) {
	below := g.Cell(x, y+1)
	if below == material.Empty {
		g.swap(x, y, x, y+1)
		return
	}
	if m == material.AntiSand && below != material.AntiSand {
		g.annihilate(x, y, below)
		return
	}

	left := g.diagonalOpen(x, y, -1)
	right := g.diagonalOpen(x, y, 1)
	switch {
	case left && right:
		g.swap(x, y, x+g.side(i), y+1)
		return
	case left:
		g.swap(x, y, x-1, y+1)
		return
	case right:
		g.swap(x, y, x+1, y+1)
		return
	}

	if m != material.Water {
		return
	}
	l := g.Cell(x-1, y) == material.Empty
	r := g.Cell(x+1, y) == material.Empty
	switch {
	case l && r:
		g.swap(x, y, x+g.side(i), y)
	case l:
		g.swap(x, y, x-1, y)
	case r:
		g.swap(x, y, x+1, y)
	}
}

// diagonalOpen: the diagonal target must be Empty and the side neighbour free, so nothing
// slips through a solid wall corner.
func (g *Grid) diagonalOpen(x, y, dx int) bool {
	return g.Cell(x+dx, y+1) == material.Empty && g.Cell(x+dx, y).Free()
}

// side returns -1 or +1.
func (g *Grid) side(i int) int {
	if g.tie == TieBreakRandom && g.src != nil {
		if g.src.Intn(2) == 0 {
			return -1
		}
		return 1
	}
	if i%2 == 0 {
		return -1
	}
	return 1
}

// swap moves the source into the destination when the destination accepts the write, then
// hands the destination's previous value back to the source. A rejected write leaves both.
func (g *Grid) swap(x0, y0, x1, y1 int) bool {
	src := g.Cell(x0, y0)
	dst := g.Cell(x1, y1)
	if !g.SetCell(x1, y1, src) {
		return false
	}
	g.put(x0, y0, dst)
	return true
}

// annihilate deletes the AntiSand cell and what lies below it. Bedrock is immutable, so
// AntiSand resting on it only consumes itself.
func (g *Grid) annihilate(x, y int, below material.Material) {
	g.put(x, y, material.Empty)
	if below != material.Bedrock {
		g.put(x, y+1, material.Empty)
	}
}
