package rng

import "testing"

func TestSplitMix_Deterministic(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 100; i++ {
		if x, y := a.Intn(1000), b.Intn(1000); x != y {
			t.Fatalf("draw %d diverged: %d vs %d", i, x, y)
		}
	}
}

func TestSplitMix_IntnBounds(t *testing.T) {
	s := New(7)
	for i := 0; i < 1000; i++ {
		v := s.Intn(5)
		if v < 0 || v >= 5 {
			t.Fatalf("Intn(5)=%d out of range", v)
		}
	}
	if s.Intn(0) != 0 || s.Intn(-3) != 0 {
		t.Fatalf("non-positive n must yield 0")
	}
	f := s.Float64()
	if f < 0 || f >= 1 {
		t.Fatalf("Float64()=%v out of range", f)
	}
}

func TestDerive_StreamsDiffer(t *testing.T) {
	a := Derive(1, 0)
	b := Derive(1, 1)
	same := 0
	for i := 0; i < 32; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	if same == 32 {
		t.Fatalf("expected independent streams")
	}
}

func TestScript_ReplaysThenFallsBack(t *testing.T) {
	s := &Script{Draws: []int{0, 7, -1}, Fallback: 3}
	if got := s.Intn(10); got != 0 {
		t.Fatalf("draw0=%d", got)
	}
	if got := s.Intn(5); got != 2 {
		t.Fatalf("draw1=%d want 2 (7 mod 5)", got)
	}
	if got := s.Intn(4); got != 3 {
		t.Fatalf("draw2=%d want 3 (-1 mod 4)", got)
	}
	if got := s.Intn(10); got != 3 {
		t.Fatalf("fallback=%d want 3", got)
	}
	if s.Used() != 3 {
		t.Fatalf("Used()=%d want 3", s.Used())
	}
}

func TestOneInAndNever(t *testing.T) {
	if !OneIn(Never{}, 1) {
		t.Fatalf("1-in-1 must always succeed")
	}
	if OneIn(Never{}, 500) {
		t.Fatalf("Never must fail 1-in-500")
	}
	if !OneIn(&Script{Draws: []int{0}}, 500) {
		t.Fatalf("scripted 0 must succeed")
	}
	if got := Range(&Script{Draws: []int{3}}, 10, 20); got != 13 {
		t.Fatalf("Range=%d want 13", got)
	}
	if got := Range(Never{}, 5, 5); got != 5 {
		t.Fatalf("empty Range=%d want 5", got)
	}
}
