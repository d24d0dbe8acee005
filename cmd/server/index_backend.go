package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sandcraft.ai/internal/persistence/indexdb"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.TransitionLogger
	Close() error
	UpsertTuning(tune tuning.Tuning) error
}

func openRuntimeIndex(worldDir, worldID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("SC_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath)
	case "d1":
		endpoint := strings.TrimSpace(os.Getenv("SC_INDEX_D1_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("SC_INDEX_D1_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("SC_INDEX_BACKEND=d1 but SC_INDEX_D1_INGEST_URL is empty")
		}
		flushMS := envInt("SC_INDEX_D1_FLUSH_MS", 500)
		batchSize := envInt("SC_INDEX_D1_BATCH_SIZE", 128)
		idx, err := indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         token,
			WorldID:       worldID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported SC_INDEX_BACKEND: %s", backend)
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// multiTickLogger fans one tick entry out to the log and the optional index.
type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiTransitionLogger struct {
	a world.TransitionLogger
	b world.TransitionLogger
}

func (m multiTransitionLogger) WriteTransition(entry world.TransitionEntry) error {
	if m.a != nil {
		_ = m.a.WriteTransition(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTransition(entry)
	}
	return nil
}
