package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"sort"
	"strings"

	"sandcraft.ai/internal/persistence/indexdb"
	"sandcraft.ai/internal/persistence/r2s3"
	"sandcraft.ai/internal/sim/world"
	"sandcraft.ai/internal/transport/ws"
)

type httpConfig struct {
	WorldID     string
	EnableAdmin bool
	EnablePprof bool
	Mirror      *r2s3.Mirror
}

func newMux(cfg httpConfig, w *world.World, wsSrv *ws.Server, idx runtimeIndex) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeWorldMetrics(rw, cfg.WorldID, w)
		if wsSrv != nil {
			writeTransportMetrics(rw, cfg.WorldID, wsSrv.Stats())
		}
		writeIndexMetrics(rw, cfg.WorldID, idx)
		writeMirrorMetrics(rw, cfg.WorldID, cfg.Mirror)
	})

	if cfg.EnableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID string             `json:"world_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				WorldID: cfg.WorldID,
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	}
	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	if wsSrv != nil {
		mux.HandleFunc("/v1/ws", wsSrv.Handler())
	}
	return mux
}

// Minimal Prometheus exposition format.
func writeWorldMetrics(rw io.Writer, worldID string, w *world.World) {
	m := w.Metrics()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}

	fmt.Fprintf(rw, "# HELP sandcraft_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_tick gauge\n")
	fmt.Fprintf(rw, "sandcraft_world_tick{world=%q} %d\n", worldID, tick)

	fmt.Fprintf(rw, "# HELP sandcraft_world_agents Current number of agents in the world.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_agents gauge\n")
	fmt.Fprintf(rw, "sandcraft_world_agents{world=%q} %d\n", worldID, m.Agents)

	fmt.Fprintf(rw, "# HELP sandcraft_world_observers Current number of observer sessions.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_observers gauge\n")
	fmt.Fprintf(rw, "sandcraft_world_observers{world=%q} %d\n", worldID, m.Observers)

	fmt.Fprintf(rw, "# HELP sandcraft_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "sandcraft_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "sandcraft_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "observer_join", m.QueueDepths.ObserverJoin)
	fmt.Fprintf(rw, "sandcraft_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "observer_leave", m.QueueDepths.ObserverLeave)

	fmt.Fprintf(rw, "# HELP sandcraft_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_step_ms gauge\n")
	fmt.Fprintf(rw, "sandcraft_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	fmt.Fprintf(rw, "# HELP sandcraft_world_cells Cells per material.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_cells gauge\n")
	for _, k := range sortedKeys(m.Census) {
		fmt.Fprintf(rw, "sandcraft_world_cells{world=%q,material=%q} %d\n", worldID, k, m.Census[k])
	}

	fmt.Fprintf(rw, "# HELP sandcraft_world_agent_jobs Agents per job.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_agent_jobs gauge\n")
	for _, k := range sortedKeys(m.Jobs) {
		fmt.Fprintf(rw, "sandcraft_world_agent_jobs{world=%q,job=%q} %d\n", worldID, k, m.Jobs[k])
	}

	fmt.Fprintf(rw, "# HELP sandcraft_world_painted_cells_total Cells written by paint strokes.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_painted_cells_total counter\n")
	fmt.Fprintf(rw, "sandcraft_world_painted_cells_total{world=%q} %d\n", worldID, m.PaintedCellsTotal)

	fmt.Fprintf(rw, "# HELP sandcraft_world_agent_changes_total Agent cell changes by outcome.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_world_agent_changes_total counter\n")
	fmt.Fprintf(rw, "sandcraft_world_agent_changes_total{world=%q,outcome=%q} %d\n", worldID, "applied", m.AppliedChangesTotal)
	fmt.Fprintf(rw, "sandcraft_world_agent_changes_total{world=%q,outcome=%q} %d\n", worldID, "rejected", m.RejectedChangesTotal)
}

func writeTransportMetrics(rw io.Writer, worldID string, s ws.Stats) {
	fmt.Fprintf(rw, "# HELP sandcraft_ws_sessions Open websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_ws_sessions gauge\n")
	fmt.Fprintf(rw, "sandcraft_ws_sessions{world=%q} %d\n", worldID, s.Sessions)

	fmt.Fprintf(rw, "# HELP sandcraft_ws_paints_total PAINT messages by outcome.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_ws_paints_total counter\n")
	fmt.Fprintf(rw, "sandcraft_ws_paints_total{world=%q,outcome=%q} %d\n", worldID, "accepted", s.PaintsTotal)
	fmt.Fprintf(rw, "sandcraft_ws_paints_total{world=%q,outcome=%q} %d\n", worldID, "rejected", s.RejectedTotal)
}

func writeIndexMetrics(rw io.Writer, worldID string, idx runtimeIndex) {
	switch v := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := v.Stats()
		fmt.Fprintf(rw, "# HELP sandcraft_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE sandcraft_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "sandcraft_index_queue_depth{world=%q,backend=%q} %d\n", worldID, "sqlite", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP sandcraft_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE sandcraft_index_dropped_total counter\n")
		fmt.Fprintf(rw, "sandcraft_index_dropped_total{world=%q,backend=%q,kind=%q} %d\n", worldID, "sqlite", "tick", s.DropTickTotal)
		fmt.Fprintf(rw, "sandcraft_index_dropped_total{world=%q,backend=%q,kind=%q} %d\n", worldID, "sqlite", "transition", s.DropTransitionTotal)
	case *indexdb.D1Index:
		s := v.Stats()
		fmt.Fprintf(rw, "# HELP sandcraft_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE sandcraft_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "sandcraft_index_queue_depth{world=%q,backend=%q} %d\n", worldID, "d1", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP sandcraft_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE sandcraft_index_dropped_total counter\n")
		fmt.Fprintf(rw, "sandcraft_index_dropped_total{world=%q,backend=%q,kind=%q} %d\n", worldID, "d1", "queue", s.QueueDroppedTotal)
		fmt.Fprintf(rw, "sandcraft_index_dropped_total{world=%q,backend=%q,kind=%q} %d\n", worldID, "d1", "retained", s.RetainDropTotal)
		fmt.Fprintf(rw, "# HELP sandcraft_index_flush_total Remote index flushes by outcome.\n")
		fmt.Fprintf(rw, "# TYPE sandcraft_index_flush_total counter\n")
		fmt.Fprintf(rw, "sandcraft_index_flush_total{world=%q,outcome=%q} %d\n", worldID, "ok", s.FlushOKTotal)
		fmt.Fprintf(rw, "sandcraft_index_flush_total{world=%q,outcome=%q} %d\n", worldID, "fail", s.FlushFailTotal)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
