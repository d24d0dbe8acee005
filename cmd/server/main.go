package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"sandcraft.ai/internal/persistence/indexdb"
	persistlog "sandcraft.ai/internal/persistence/log"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
	"sandcraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "", "world id (default: tuning world_id)")
		seed       = flag.Int64("seed", 0, "world seed override (0 keeps the tuning seed)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (ticks, paints, transitions, tuning)")
		loopback   = flag.Bool("loopback_only", false, "accept websocket clients from loopback addresses only")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if id := strings.TrimSpace(*worldID); id != "" {
		tune.WorldID = id
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	wcfg, err := tune.WorldConfig()
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}
	w, err := world.New(wcfg)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	// Every start is a fresh run replayable from its own run.yaml and events.
	runDir := filepath.Join(*dataDir, "worlds", w.ID(), "runs", time.Now().UTC().Format("20060102T150405Z"))
	if err := tuning.Save(filepath.Join(runDir, "run.yaml"), tune); err != nil {
		logger.Fatalf("write run.yaml: %v", err)
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(runDir, w.ID(), *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	mirror, err := openMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	mirror.Enqueue(filepath.Join(runDir, "run.yaml"))

	tickLog := persistlog.NewTickLogger(runDir)
	transitionLog := persistlog.NewTransitionLogger(runDir)
	if mirror != nil {
		tickLog.OnSealed(mirror.Enqueue)
		transitionLog.OnSealed(mirror.Enqueue)
	}
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	w.SetTransitionLogger(multiTransitionLogger{a: transitionLog, b: idx})

	ctx, cancel := signalContext()
	defer cancel()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	wsSrv, err := ws.NewServer(w, tune.Paint, logger)
	if err != nil {
		logger.Fatalf("ws: %v", err)
	}
	wsSrv.LoopbackOnly = *loopback

	enableAdmin := envBool("SC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprof := envBool("SC_ENABLE_PPROF_HTTP", false)
	if !enableAdmin {
		logger.Printf("admin endpoints disabled (SC_ENABLE_ADMIN_HTTP=false)")
	}
	if !enablePprof {
		logger.Printf("pprof endpoints disabled (SC_ENABLE_PPROF_HTTP=false)")
	}
	mux := newMux(httpConfig{
		WorldID:     w.ID(),
		EnableAdmin: enableAdmin,
		EnablePprof: enablePprof,
		Mirror:      mirror,
	}, w, wsSrv, idx)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("world=%s size=%dx%d seed=%d agents=%d run=%s", w.ID(), wcfg.Width, wcfg.Height, wcfg.Seed, wcfg.Agents, runDir)
	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Drain the world loop before closing its sinks.
	cancel()
	<-worldDone
	if err := tickLog.Close(); err != nil {
		logger.Printf("close tick log: %v", err)
	}
	if err := transitionLog.Close(); err != nil {
		logger.Printf("close transition log: %v", err)
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("close index: %v", err)
		}
		if _, ok := idx.(*indexdb.SQLiteIndex); ok {
			mirror.Enqueue(filepath.Join(runDir, "index", "world.sqlite"))
		}
	}
	mirror.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
