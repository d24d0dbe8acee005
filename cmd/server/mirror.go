package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"sandcraft.ai/internal/persistence/r2s3"
)

// openMirror builds the object-storage mirror from SC_R2_* env vars. It returns nil when
// SC_R2_ENDPOINT is unset.
func openMirror(dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("SC_R2_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	client, err := r2s3.New(r2s3.Config{
		Endpoint:        endpoint,
		Bucket:          os.Getenv("SC_R2_BUCKET"),
		Region:          strings.TrimSpace(os.Getenv("SC_R2_REGION")),
		AccessKeyID:     os.Getenv("SC_R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("SC_R2_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("r2 mirror: %w", err)
	}
	return r2s3.NewMirror(client, r2s3.MirrorConfig{
		DataDir:       dataDir,
		Prefix:        os.Getenv("SC_R2_PREFIX"),
		Workers:       envInt("SC_R2_WORKERS", 2),
		QueueCapacity: envInt("SC_R2_QUEUE", 256),
		EnqueueWait:   time.Duration(envInt("SC_R2_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
		Logger:        logger,
	}), nil
}

func writeMirrorMetrics(rw io.Writer, worldID string, m *r2s3.Mirror) {
	if m == nil {
		return
	}
	s := m.Stats()
	fmt.Fprintf(rw, "# HELP sandcraft_mirror_queue_depth Object storage upload queue depth.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "sandcraft_mirror_queue_depth{world=%q} %d\n", worldID, s.QueueDepth)
	fmt.Fprintf(rw, "# HELP sandcraft_mirror_uploads_total Object storage uploads by outcome.\n")
	fmt.Fprintf(rw, "# TYPE sandcraft_mirror_uploads_total counter\n")
	fmt.Fprintf(rw, "sandcraft_mirror_uploads_total{world=%q,outcome=%q} %d\n", worldID, "ok", s.UploadSuccessTotal)
	fmt.Fprintf(rw, "sandcraft_mirror_uploads_total{world=%q,outcome=%q} %d\n", worldID, "fail", s.UploadFailTotal)
	fmt.Fprintf(rw, "sandcraft_mirror_uploads_total{world=%q,outcome=%q} %d\n", worldID, "dropped", s.DroppedTotal)
}
