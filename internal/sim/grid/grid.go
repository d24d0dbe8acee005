// Package grid owns the material field and runs the falling-sand automaton over it.
package grid

import (
	"fmt"
	"strings"

	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/rng"
)

// Reader is the read-only view agents get during their pass.
type Reader interface {
	Cell(x, y int) material.Material
	Width() int
	Height() int
}

// Change is a deferred write produced outside the automaton pass.
type Change struct {
	X int               `json:"x"`
	Y int               `json:"y"`
	M material.Material `json:"m"`
}

// TieBreak selects the side when both diagonals (or both water neighbours) are open.
type TieBreak uint8

const (
	// TieBreakParity goes left from even linear indices and right from odd ones.
	TieBreakParity TieBreak = iota
	// TieBreakRandom flips the grid's injected source.
	TieBreakRandom
)

func (t TieBreak) String() string {
	switch t {
	case TieBreakRandom:
		return "random"
	default:
		return "parity"
	}
}

func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "parity":
		return TieBreakParity, nil
	case "random":
		return TieBreakRandom, nil
	default:
		return TieBreakParity, fmt.Errorf("unknown tie_break %q", s)
	}
}

// Grid is a W×H row-major field. Coordinates outside [0,W)×[0,H) read as Bedrock and
// reject writes.
type Grid struct {
	w, h  int
	cells []material.Material
	moved []bool

	tie TieBreak
	src rng.Source
}

// New returns an all-Empty grid. Non-positive sizes are clamped to 1.
func New(w, h int) *Grid {
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return &Grid{
		w:     w,
		h:     h,
		cells: make([]material.Material, w*h),
		moved: make([]bool, w*h),
	}
}

// SetTieBreak picks the tie-break policy. TieBreakRandom without a source falls back to parity.
func (g *Grid) SetTieBreak(t TieBreak, src rng.Source) {
	g.tie = t
	g.src = src
}

func (g *Grid) Width() int  { return g.w }
func (g *Grid) Height() int { return g.h }

func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.w && y >= 0 && y < g.h
}

func (g *Grid) index(x, y int) (int, bool) {
	if !g.InBounds(x, y) {
		return 0, false
	}
	return y*g.w + x, true
}

func (g *Grid) Cell(x, y int) material.Material {
	i, ok := g.index(x, y)
	if !ok {
		return material.Bedrock
	}
	return g.cells[i]
}

// SetCell writes m at (x, y) and marks the cell moved. It returns false without writing when
// the coordinate is out of range, m is unknown, or a non-Empty m targets a cell already moved
// into this tick. Empty writes never set the marker.
func (g *Grid) SetCell(x, y int, m material.Material) bool {
	i, ok := g.index(x, y)
	if !ok || !m.Valid() {
		return false
	}
	if m != material.Empty && g.moved[i] {
		return false
	}
	g.cells[i] = m
	if m != material.Empty {
		g.moved[i] = true
	}
	return true
}

// Moved reports the per-tick marker; false out of range.
func (g *Grid) Moved(x, y int) bool {
	i, ok := g.index(x, y)
	return ok && g.moved[i]
}

// put writes without touching the marker.
func (g *Grid) put(x, y int, m material.Material) {
	if i, ok := g.index(x, y); ok {
		g.cells[i] = m
	}
}

func (g *Grid) ResetMoved() {
	clear(g.moved)
}

// Apply writes changes through SetCell in order and returns how many were accepted.
func (g *Grid) Apply(changes []Change) int {
	n := 0
	for _, c := range changes {
		if g.SetCell(c.X, c.Y, c.M) {
			n++
		}
	}
	return n
}

// Brush paints the (2*radius+1)-wide square centred on (x, y); radius 0 paints the one cell.
func (g *Grid) Brush(x, y, radius int, m material.Material) int {
	if radius < 0 {
		radius = 0
	}
	n := 0
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if g.SetCell(x+dx, y+dy, m) {
				n++
			}
		}
	}
	return n
}

// Cells exposes the backing field in row-major order. Callers must not modify it.
func (g *Grid) Cells() []material.Material { return g.cells }

// Census counts cells per material.
func (g *Grid) Census() [material.Count]int {
	var out [material.Count]int
	for _, m := range g.cells {
		if m.Valid() {
			out[m]++
		}
	}
	return out
}

var glyphs = [material.Count]byte{
	material.Empty:    '.',
	material.Bedrock:  '#',
	material.Sand:     'S',
	material.AntiSand: 'A',
	material.Water:    'W',
	material.Wood:     'O',
	material.Tree:     'T',
}

// String renders one line per row; handy in test failures.
func (g *Grid) String() string {
	var b strings.Builder
	b.Grow((g.w + 1) * g.h)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			m := g.cells[y*g.w+x]
			if m.Valid() {
				b.WriteByte(glyphs[m])
			} else {
				b.WriteByte('?')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
