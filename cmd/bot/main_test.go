package main

import (
	"encoding/json"
	"math/rand"
	"testing"

	"sandcraft.ai/internal/protocol"
)

func TestPainter_StrokesStayInUpperHalf(t *testing.T) {
	p := &painter{rng: rand.New(rand.NewSource(3)), every: 1}
	p.welcome(protocol.WelcomeMsg{WorldParams: protocol.WorldParams{Width: 40, Height: 30}})

	for i := 0; i < 500; i++ {
		pm, ok := p.onFrame(protocol.FrameMsg{Tick: uint64(i)})
		if !ok {
			t.Fatalf("frame %d: no stroke", i)
		}
		if pm.X < 0 || pm.X >= 40 || pm.Y < 0 || pm.Y >= 15 {
			t.Fatalf("stroke out of range: %+v", pm)
		}
		if pm.Radius == nil || *pm.Radius < 1 || *pm.Radius > 4 {
			t.Fatalf("radius=%v", pm.Radius)
		}
		if pm.Material == "BEDROCK" || pm.Material == "" {
			t.Fatalf("material=%q", pm.Material)
		}
		b, _ := json.Marshal(pm)
		if _, err := protocol.Validate(b); err != nil {
			t.Fatalf("stroke %s fails schema: %v", b, err)
		}
	}
}

func TestPainter_Cadence(t *testing.T) {
	p := &painter{rng: rand.New(rand.NewSource(1)), every: 3}
	n := 0
	for i := 0; i < 9; i++ {
		// No WELCOME seen: dimensions come from the frame.
		if _, ok := p.onFrame(protocol.FrameMsg{Width: 8, Height: 8}); ok {
			n++
		}
	}
	if n != 3 {
		t.Fatalf("strokes=%d want 3", n)
	}
}

func TestPainter_BacksOffOnRetryableError(t *testing.T) {
	p := &painter{rng: rand.New(rand.NewSource(1)), every: 1, width: 8, height: 8}

	p.onError(protocol.NewError(protocol.ErrInvalidTarget, "x"))
	if _, ok := p.onFrame(protocol.FrameMsg{}); !ok {
		t.Fatalf("non-retryable error should not pause")
	}

	p.onError(protocol.NewError(protocol.ErrRateLimit, "x"))
	for i := 0; i < 5; i++ {
		if _, ok := p.onFrame(protocol.FrameMsg{}); ok {
			t.Fatalf("frame %d painted during back-off", i)
		}
	}
	if _, ok := p.onFrame(protocol.FrameMsg{}); !ok {
		t.Fatalf("expected stroke after back-off")
	}
}
