// Package rng holds the single random source every probabilistic choice in the simulation
// routes through.
package rng

import "sandcraft.ai/internal/sim/mathx"

// Source draws uniform integers in [0, n). n <= 0 yields 0.
// *math/rand.Rand satisfies it; tests inject scripted sources.
type Source interface {
	Intn(n int) int
}

// OneIn reports a 1-in-n chance. n <= 1 always succeeds.
func OneIn(src Source, n int) bool {
	if n <= 1 {
		return true
	}
	return src.Intn(n) == 0
}

// Range draws from [lo, hi). An empty range yields lo.
func Range(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.Intn(hi-lo)
}

// SplitMix is a small deterministic generator (splitmix64). The zero value is usable.
type SplitMix struct {
	state uint64
}

func New(seed int64) *SplitMix {
	return &SplitMix{state: uint64(seed)}
}

func (s *SplitMix) Uint64() uint64 {
	v := mathx.Mix64(s.state)
	s.state += 0x9e3779b97f4a7c15
	return v
}

func (s *SplitMix) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.Uint64() % uint64(n))
}

// Float64 returns a value in [0, 1).
func (s *SplitMix) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// Derive returns an independent generator keyed by (seed, stream), so world generation and
// the per-tick rolls do not perturb each other.
func Derive(seed int64, stream int) *SplitMix {
	return &SplitMix{state: mathx.Hash2(seed, stream, 0)}
}

// Script replays a fixed sequence of draws; each value is reduced modulo n. Once exhausted it
// keeps returning Fallback. Used by tests to pin every roll.
type Script struct {
	Draws    []int
	Fallback int
	pos      int
}

func (s *Script) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	v := s.Fallback
	if s.pos < len(s.Draws) {
		v = s.Draws[s.pos]
		s.pos++
	}
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

// Used returns how many scripted draws were consumed.
func (s *Script) Used() int { return s.pos }

// Never is a source whose every 1-in-n roll fails (n > 1). Useful to hold state machines still.
type Never struct{}

func (Never) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	return n - 1
}
