package r2s3

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	EnqueuedTotal      uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

type uploader interface {
	PutFile(ctx context.Context, objectKey, localPath string) error
}

type MirrorConfig struct {
	DataDir       string // object keys are paths relative to this dir
	Prefix        string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	MaxAttempts   int
	Logger        *log.Logger
}

// Mirror copies sealed run files (log segments, run.yaml, the closed index) to the bucket in
// the background. Enqueue never blocks the caller for longer than EnqueueWait.
type Mirror struct {
	up      uploader
	cfg     MirrorConfig
	prefix  string
	backoff func(attempt int) time.Duration

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueuedTotal      atomic.Uint64
	droppedTotal       atomic.Uint64
	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
	lastSuccessUnix    atomic.Int64
	lastErrorUnix      atomic.Int64
}

func NewMirror(c *Client, cfg MirrorConfig) *Mirror {
	return newMirror(c, cfg)
}

func newMirror(up uploader, cfg MirrorConfig) *Mirror {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	m := &Mirror{
		up:     up,
		cfg:    cfg,
		prefix: strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		},
		jobs: make(chan string, cfg.QueueCapacity),
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.uploadOne(p)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	timer := time.NewTimer(m.cfg.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		n := m.droppedTotal.Add(1)
		m.printf("mirror drop local=%s reason=queue_full dropped_total=%d", localPath, n)
	}
}

// Close waits for queued uploads to finish. Enqueue must not be called afterwards.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() { close(m.jobs) })
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.jobs),
		QueueCapacity:      cap(m.jobs),
		EnqueuedTotal:      m.enqueuedTotal.Load(),
		DroppedTotal:       m.droppedTotal.Load(),
		UploadSuccessTotal: m.uploadSuccessTotal.Load(),
		UploadFailTotal:    m.uploadFailTotal.Load(),
		LastSuccessUnix:    m.lastSuccessUnix.Load(),
		LastErrorUnix:      m.lastErrorUnix.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.printf("mirror skip local=%s err=%v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploadSuccessTotal.Add(1)
			m.lastSuccessUnix.Store(time.Now().UTC().Unix())
			m.printf("mirror uploaded key=%s", key)
			return
		}
		if attempt < m.cfg.MaxAttempts {
			time.Sleep(m.backoff(attempt))
		}
	}
	m.uploadFailTotal.Add(1)
	m.lastErrorUnix.Store(time.Now().UTC().Unix())
	m.printf("mirror upload failed key=%s err=%v", key, lastErr)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	base, err := filepath.Abs(m.cfg.DataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", abs, base)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Printf(format, args...)
	}
}
