// Package material defines the closed set of substances a grid cell can hold.
package material

import "fmt"

// Material is a cell's substance tag. The zero value is Empty.
type Material uint8

const (
	Empty Material = iota
	Bedrock
	Sand
	AntiSand
	Water
	Wood
	Tree

	// Count is the number of known materials.
	Count
)

// All lists every material in palette order.
var All = []Material{Empty, Bedrock, Sand, AntiSand, Water, Wood, Tree}

var names = [Count]string{
	Empty:    "EMPTY",
	Bedrock:  "BEDROCK",
	Sand:     "SAND",
	AntiSand: "ANTISAND",
	Water:    "WATER",
	Wood:     "WOOD",
	Tree:     "TREE",
}

func (m Material) String() string {
	if m < Count {
		return names[m]
	}
	return fmt.Sprintf("MATERIAL(%d)", uint8(m))
}

// Valid reports whether m is one of the known materials.
func (m Material) Valid() bool { return m < Count }

// Solid materials block agents and block diagonal flow past a wall corner.
func (m Material) Solid() bool {
	switch m {
	case Wood, Sand, Bedrock:
		return true
	default:
		return false
	}
}

// Free is the complement of Solid.
func (m Material) Free() bool { return !m.Solid() }

// Movable materials take part in the automaton pass.
func (m Material) Movable() bool {
	switch m {
	case Sand, AntiSand, Water:
		return true
	default:
		return false
	}
}

// Parse maps a palette name (case-sensitive, as produced by String) back to a Material.
func Parse(s string) (Material, bool) {
	for i, n := range names {
		if n == s {
			return Material(i), true
		}
	}
	return Empty, false
}

// Palette returns the material names indexed by their numeric id.
func Palette() []string {
	out := make([]string, len(names))
	copy(out, names[:])
	return out
}

func (m Material) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid material %d", uint8(m))
	}
	return []byte(names[m]), nil
}

func (m *Material) UnmarshalText(b []byte) error {
	v, ok := Parse(string(b))
	if !ok {
		return fmt.Errorf("unknown material %q", string(b))
	}
	*m = v
	return nil
}
