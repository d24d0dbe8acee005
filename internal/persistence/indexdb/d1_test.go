package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

type rawEvent struct {
	Kind    string          `json:"kind"`
	WorldID string          `json:"world_id"`
	Payload json.RawMessage `json:"payload"`
}

type ingestRecorder struct {
	mu      sync.Mutex
	failN   int
	reqs    int
	tokens  []string
	applied []rawEvent
}

func (r *ingestRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.reqs++
	n := r.reqs
	r.tokens = append(r.tokens, req.Header.Get("x-sc-index-token"))
	r.mu.Unlock()

	if n <= r.failN {
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}
	var body struct {
		Events []rawEvent `json:"events"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.applied = append(r.applied, body.Events...)
	r.mu.Unlock()
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (r *ingestRecorder) waitApplied(t *testing.T, n int) []rawEvent {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.applied) >= n {
			out := append([]rawEvent(nil), r.applied...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("applied=%d want %d (requests=%d)", len(r.applied), n, r.reqs)
	return nil
}

func TestD1Index_BatchesEvents(t *testing.T) {
	rec := &ingestRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	idx, err := OpenD1(D1Config{
		Endpoint:      srv.URL,
		Token:         "secret",
		WorldID:       "sandbox",
		BatchSize:     3,
		FlushInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenD1: %v", err)
	}
	defer func() { _ = idx.Close() }()

	e := world.TickLogEntry{Tick: 5, Digest: "abc", Paints: []world.Paint{{X: 1, Y: 1, R: 2, M: material.Water}}}
	e.Census[material.Water] = 9
	_ = idx.WriteTick(e)
	_ = idx.WriteTransition(world.TransitionEntry{Tick: 5, Agent: 3, From: "WALK", To: "BRIDGE"})
	_ = idx.WriteTransition(world.TransitionEntry{Tick: 5, Agent: 4, From: "WALK", To: "IDLE"})
	_ = idx.UpsertTuning(tuning.Defaults())

	got := rec.waitApplied(t, 4)
	kinds := map[string]int{}
	for _, ev := range got {
		if ev.WorldID != "sandbox" {
			t.Fatalf("world_id=%q", ev.WorldID)
		}
		kinds[ev.Kind]++
	}
	if kinds["tick"] != 1 || kinds["transition"] != 2 || kinds["config"] != 1 {
		t.Fatalf("kinds=%v", kinds)
	}

	var tick d1TickPayload
	if err := json.Unmarshal(got[0].Payload, &tick); err != nil {
		t.Fatalf("unmarshal tick: %v", err)
	}
	if tick.Tick != 5 || tick.Census["WATER"] != 9 || len(tick.Paints) != 1 || tick.Paints[0].M != material.Water {
		t.Fatalf("tick payload=%+v", tick)
	}
	var tr d1TransitionPayload
	if err := json.Unmarshal(got[2].Payload, &tr); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if tr.Seq != 1 || tr.Agent != 4 {
		t.Fatalf("second transition payload=%+v want seq 1 agent 4", tr)
	}

	rec.mu.Lock()
	tok := rec.tokens[0]
	rec.mu.Unlock()
	if tok != "secret" {
		t.Fatalf("token header=%q", tok)
	}
}

func TestD1Index_RetainsBatchOnFlushFailure(t *testing.T) {
	rec := &ingestRecorder{failN: 3}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	idx, err := OpenD1(D1Config{
		Endpoint:      srv.URL,
		WorldID:       "world_1",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenD1: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.WriteTick(world.TickLogEntry{Tick: 123, Digest: "abc"}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	rec.waitApplied(t, 1)

	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 || st.RetainDropTotal != 0 {
		t.Fatalf("unexpected drops: %+v", st)
	}
}

func TestOpenD1_Validates(t *testing.T) {
	if _, err := OpenD1(D1Config{WorldID: "w"}); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := OpenD1(D1Config{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected world id error")
	}
}
