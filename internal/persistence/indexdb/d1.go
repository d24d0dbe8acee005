package indexdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

type D1Config struct {
	Endpoint      string
	Token         string
	WorldID       string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained caps events held across failed flushes. Older events are dropped first.
	MaxRetained int
	Logger      *log.Logger
}

// D1Index ships index events to an HTTP ingest endpoint (a Cloudflare D1 worker) in JSON batches.
type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	seqMu              sync.Mutex
	lastTransitionTick uint64
	transitionSeq      int

	queueDropped   atomic.Uint64
	retainDropped  atomic.Uint64
	flushFail      atomic.Uint64
	flushOK        atomic.Uint64
	retainedEvents atomic.Int64
}

type d1Event struct {
	Kind    string `json:"kind"`
	WorldID string `json:"world_id"`
	Payload any    `json:"payload"`
}

type d1TickPayload struct {
	Tick   uint64         `json:"tick"`
	Digest string         `json:"digest"`
	Paints []world.Paint  `json:"paints,omitempty"`
	Census map[string]int `json:"census"`
}

type d1TransitionPayload struct {
	Tick  uint64 `json:"tick"`
	Seq   int    `json:"seq"`
	Agent int    `json:"agent"`
	From  string `json:"from"`
	To    string `json:"to"`
	Pos   [2]int `json:"pos"`
}

type d1ConfigPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

// D1Stats reports queue health for /metrics.
type D1Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	RetainedEvents    int64  `json:"retained_events"`
	RetainDropTotal   uint64 `json:"retain_drop_total"`
	FlushOKTotal      uint64 `json:"flush_ok_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 64 * cfg.BatchSize
	}

	d := &D1Index{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan d1Event, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) WriteTick(entry world.TickLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	census := make(map[string]int, material.Count)
	for i, n := range entry.Census {
		census[material.Material(i).String()] = n
	}
	p := d1TickPayload{
		Tick:   entry.Tick,
		Digest: entry.Digest,
		Paints: entry.Paints,
		Census: census,
	}
	d.enqueue(d1Event{Kind: "tick", WorldID: d.cfg.WorldID, Payload: p})
	return nil
}

func (d *D1Index) WriteTransition(entry world.TransitionEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	p := d1TransitionPayload{
		Tick:  entry.Tick,
		Seq:   d.nextTransitionSeq(entry.Tick),
		Agent: entry.Agent,
		From:  entry.From,
		To:    entry.To,
		Pos:   entry.Pos,
	}
	d.enqueue(d1Event{Kind: "transition", WorldID: d.cfg.WorldID, Payload: p})
	return nil
}

func (d *D1Index) UpsertTuning(tune tuning.Tuning) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	d.enqueue(d1Event{Kind: "config", WorldID: d.cfg.WorldID, Payload: d1ConfigPayload{
		Name:      "tuning",
		Digest:    hex.EncodeToString(sum[:]),
		JSON:      string(b),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return nil
}

func (d *D1Index) Stats() D1Stats {
	if d == nil {
		return D1Stats{}
	}
	return D1Stats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		RetainedEvents:    d.retainedEvents.Load(),
		RetainDropTotal:   d.retainDropped.Load(),
		FlushOKTotal:      d.flushOK.Load(),
		FlushFailTotal:    d.flushFail.Load(),
	}
}

func (d *D1Index) nextTransitionSeq(tick uint64) int {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	if tick != d.lastTransitionTick {
		d.lastTransitionTick = tick
		d.transitionSeq = 0
	}
	seq := d.transitionSeq
	d.transitionSeq++
	return seq
}

func (d *D1Index) enqueue(ev d1Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("d1 index queue full; drop kind=%s world=%s", ev.Kind, ev.WorldID)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			// Keep the batch for the next flush, trimming the oldest events past the cap.
			d.flushFail.Add(1)
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				batch = append(batch[:0], batch[over:]...)
				d.retainDropped.Add(uint64(over))
			}
			d.retainedEvents.Store(int64(len(batch)))
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			return
		}
		d.flushOK.Add(1)
		batch = batch[:0]
		d.retainedEvents.Store(0)
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize && d.retainedEvents.Load() == 0 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-sc-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
