package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index of the tick and transition logs. Writes are queued
// and committed in batches by a single writer goroutine; when the queue is full they are dropped
// and counted. The JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick       atomic.Uint64
	dropTransition atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqTransition
)

type req struct {
	kind reqKind

	tick       world.TickLogEntry
	transition world.TransitionEntry
}

// Stats is a point-in-time view of the writer queue.
type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropTickTotal       uint64 `json:"drop_tick_total"`
	DropTransitionTotal uint64 `json:"drop_transition_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			paints INTEGER NOT NULL,
			empty INTEGER NOT NULL,
			bedrock INTEGER NOT NULL,
			sand INTEGER NOT NULL,
			antisand INTEGER NOT NULL,
			water INTEGER NOT NULL,
			wood INTEGER NOT NULL,
			tree INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS paints (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			r INTEGER NOT NULL,
			material TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS transitions (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent INTEGER NOT NULL,
			from_job TEXT NOT NULL,
			to_job TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_agent_tick ON transitions(agent, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_to_tick ON transitions(to_job, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteTransition(entry world.TransitionEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTransition, transition: entry}:
	default:
		s.dropTransition.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropTickTotal:       s.dropTick.Load(),
		DropTransitionTotal: s.dropTransition.Load(),
	}
}

// UpsertTuning stores the tuning actually applied to this run (canonical JSON) and stamps the
// schema version. It writes synchronously.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('palette',?)`, mustJSON(material.Palette())); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,paints,empty,bedrock,sand,antisand,water,wood,tree) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertPaint, _ := s.db.Prepare(`INSERT OR REPLACE INTO paints(tick,seq,x,y,r,material) VALUES(?,?,?,?,?,?)`)
	insertTransition, _ := s.db.Prepare(`INSERT OR REPLACE INTO transitions(tick,seq,agent,from_job,to_job,x,y) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertPaint, insertTransition} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastTransitionTick uint64
		transitionSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			c := e.Census
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(e.Tick),
					e.Digest,
					len(e.Paints),
					c[material.Empty], c[material.Bedrock], c[material.Sand], c[material.AntiSand],
					c[material.Water], c[material.Wood], c[material.Tree],
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for i, p := range e.Paints {
				if insertPaint == nil {
					break
				}
				if _, err := tx.Stmt(insertPaint).Exec(int64(e.Tick), i, p.X, p.Y, p.R, p.M.String()); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqTransition:
			t := r.transition
			if t.Tick != lastTransitionTick {
				lastTransitionTick = t.Tick
				transitionSeq = 0
			}
			seq := transitionSeq
			transitionSeq++
			if insertTransition != nil {
				if _, err := tx.Stmt(insertTransition).Exec(
					int64(t.Tick), seq, t.Agent, t.From, t.To, t.Pos[0], t.Pos[1],
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
