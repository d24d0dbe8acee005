package main

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sandcraft.ai/internal/persistence/indexdb"
	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

func seedIndex(t *testing.T) string {
	t.Helper()
	runDir := t.TempDir()
	dbPath := filepath.Join(runDir, "index", "world.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	for tick := uint64(0); tick < 5; tick++ {
		e := world.TickLogEntry{Tick: tick, Digest: "d"}
		if tick == 3 {
			e.Paints = []world.Paint{{X: 1, Y: 1, R: 2, M: material.Water}, {X: 9, Y: 4, R: 0, M: material.Wood}}
		}
		_ = idx.WriteTick(e)
	}
	_ = idx.WriteTransition(world.TransitionEntry{Tick: 2, Agent: 1, From: "WALK", To: "DIG"})
	_ = idx.WriteTransition(world.TransitionEntry{Tick: 4, Agent: 0, From: "WALK", To: "BUILD"})
	_ = idx.WriteTransition(world.TransitionEntry{Tick: 4, Agent: 1, From: "DIG", To: "WALK"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return dbPath
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestQueries(t *testing.T) {
	db := openDB(t, seedIndex(t))

	ticks, err := queryTicks(db, 2)
	if err != nil {
		t.Fatalf("queryTicks: %v", err)
	}
	if len(ticks) != 2 || ticks[0].Tick != 4 || ticks[1].Tick != 3 || ticks[1].Paints != 2 {
		t.Fatalf("ticks=%+v", ticks)
	}

	paints, err := queryPaints(db, 3, 10)
	if err != nil {
		t.Fatalf("queryPaints: %v", err)
	}
	if len(paints) != 2 || paints[0].Material != "WATER" || paints[1].Material != "WOOD" || paints[1].Seq != 1 {
		t.Fatalf("paints=%+v", paints)
	}
	if paints, _ := queryPaints(db, 1, 10); len(paints) != 0 {
		t.Fatalf("paints at tick 1=%+v want none", paints)
	}

	all, err := queryTransitions(db, -1, 10)
	if err != nil {
		t.Fatalf("queryTransitions: %v", err)
	}
	if len(all) != 3 || all[0].Tick != 4 || all[0].Seq != 1 || all[2].To != "DIG" {
		t.Fatalf("transitions=%+v", all)
	}
	mine, err := queryTransitions(db, 0, 10)
	if err != nil {
		t.Fatalf("queryTransitions agent: %v", err)
	}
	if len(mine) != 1 || mine[0].To != "BUILD" {
		t.Fatalf("agent 0 transitions=%+v", mine)
	}

	cfg, err := queryConfig(db, "tuning")
	if err != nil {
		t.Fatalf("queryConfig: %v", err)
	}
	if cfg.Name != "tuning" || len(cfg.Digest) != 64 || !strings.Contains(cfg.JSON, `"WorldID":"sandbox"`) {
		t.Fatalf("config=%+v", cfg)
	}
	if _, err := queryConfig(db, "missing"); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestListEntries(t *testing.T) {
	data := t.TempDir()
	for _, run := range []string{"20260101T000000Z", "20260301T000000Z", "20260201T000000Z"} {
		if err := os.MkdirAll(filepath.Join(data, "worlds", "sandbox", "runs", run), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	worlds, err := listEntries(data, "")
	if err != nil || len(worlds) != 1 || worlds[0] != "sandbox" {
		t.Fatalf("worlds=%v err=%v", worlds, err)
	}
	runs, err := listEntries(data, "sandbox")
	if err != nil {
		t.Fatalf("listEntries: %v", err)
	}
	if len(runs) != 3 || runs[0] != "20260301T000000Z" || runs[2] != "20260101T000000Z" {
		t.Fatalf("runs=%v", runs)
	}
	if _, err := listEntries(data, "nope"); err == nil {
		t.Fatalf("expected error for unknown world")
	}
}

func TestFetchState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/v1/state" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"world_id":"sandbox","tick":12}`))
	}))
	defer srv.Close()

	b, err := fetchState(srv.Client(), srv.URL+"/")
	if err != nil {
		t.Fatalf("fetchState: %v", err)
	}
	if !strings.Contains(string(b), `"tick":12`) {
		t.Fatalf("body=%s", b)
	}

	forbidden := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer forbidden.Close()
	if _, err := fetchState(forbidden.Client(), forbidden.URL); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err=%v want status=403", err)
	}
}
