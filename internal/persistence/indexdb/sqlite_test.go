package indexdb

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

func TestSQLiteIndex_TicksPaintsAndTransitions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "world.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	e0 := world.TickLogEntry{
		Tick:   7,
		Digest: "d7",
		Paints: []world.Paint{
			{X: 1, Y: 2, R: 3, M: material.Sand},
			{X: 4, Y: 5, R: 0, M: material.AntiSand},
		},
	}
	e0.Census[material.Empty] = 90
	e0.Census[material.Sand] = 10
	if err := idx.WriteTick(e0); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	if err := idx.WriteTick(world.TickLogEntry{Tick: 8, Digest: "d8"}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}
	for _, tr := range []world.TransitionEntry{
		{Tick: 8, Agent: 0, From: "WALK", To: "DIG", Pos: [2]int{3, 4}},
		{Tick: 8, Agent: 2, From: "IDLE", To: "WALK", Pos: [2]int{5, 6}},
		{Tick: 9, Agent: 0, From: "DIG", To: "WALK", Pos: [2]int{3, 4}},
	} {
		if err := idx.WriteTransition(tr); err != nil {
			t.Fatalf("WriteTransition: %v", err)
		}
	}
	// Close drains the queue and commits.
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.WriteTick(world.TickLogEntry{Tick: 99}); err != nil {
		t.Fatalf("WriteTick after close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var digest string
	var paints, empty, sand int
	if err := db.QueryRow(`SELECT digest, paints, empty, sand FROM ticks WHERE tick=7`).Scan(&digest, &paints, &empty, &sand); err != nil {
		t.Fatalf("query tick: %v", err)
	}
	if digest != "d7" || paints != 2 || empty != 90 || sand != 10 {
		t.Fatalf("tick row = %s %d %d %d", digest, paints, empty, sand)
	}

	var ticks int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&ticks); err != nil || ticks != 2 {
		t.Fatalf("ticks=%d err=%v want 2", ticks, err)
	}

	var mat string
	var r int
	if err := db.QueryRow(`SELECT material, r FROM paints WHERE tick=7 AND seq=1`).Scan(&mat, &r); err != nil {
		t.Fatalf("query paint: %v", err)
	}
	if mat != "ANTISAND" || r != 0 {
		t.Fatalf("paint row = %s r=%d", mat, r)
	}

	rows, err := db.Query(`SELECT tick, seq, agent, to_job FROM transitions ORDER BY tick, seq`)
	if err != nil {
		t.Fatalf("query transitions: %v", err)
	}
	defer rows.Close()
	type row struct {
		tick, seq, agent int
		to               string
	}
	var got []row
	for rows.Next() {
		var x row
		if err := rows.Scan(&x.tick, &x.seq, &x.agent, &x.to); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, x)
	}
	want := []row{{8, 0, 0, "DIG"}, {8, 1, 2, "WALK"}, {9, 0, 0, "WALK"}}
	if len(got) != len(want) {
		t.Fatalf("transitions=%+v want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestSQLiteIndex_UpsertTuning(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	tune := tuning.Defaults()
	if err := idx.UpsertTuning(tune); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	tune.Seed = 99
	if err := idx.UpsertTuning(tune); err != nil {
		t.Fatalf("UpsertTuning again: %v", err)
	}
	_ = idx.Close()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM configs`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("configs rows=%d err=%v want 1", n, err)
	}
	var digest, raw string
	if err := db.QueryRow(`SELECT digest, json FROM configs WHERE name='tuning'`).Scan(&digest, &raw); err != nil {
		t.Fatalf("query config: %v", err)
	}
	if len(digest) != 64 {
		t.Fatalf("digest=%q", digest)
	}
	var back tuning.Tuning
	if err := json.Unmarshal([]byte(raw), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Seed != 99 {
		t.Fatalf("stored seed=%d want 99", back.Seed)
	}

	var palette string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='palette'`).Scan(&palette); err != nil {
		t.Fatalf("query palette: %v", err)
	}
	var names []string
	if err := json.Unmarshal([]byte(palette), &names); err != nil || len(names) != int(material.Count) {
		t.Fatalf("palette=%s err=%v", palette, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	_ = s.WriteTransition(world.TransitionEntry{Tick: 2})
	_ = s.WriteTransition(world.TransitionEntry{Tick: 3})

	st := s.Stats()
	if st.DropTickTotal != 1 {
		t.Fatalf("DropTickTotal=%d want=1", st.DropTickTotal)
	}
	if st.DropTransitionTotal != 2 {
		t.Fatalf("DropTransitionTotal=%d want=2", st.DropTransitionTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
