package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"sandcraft.ai/internal/sim/world"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named <prefix>-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer

	// onSealed receives the path of each segment once it is closed for good.
	onSealed func(path string)
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// OnSealed registers fn to be called (outside the writer lock) with every segment the writer
// finishes, either on hourly rotation or on Close.
func (w *JSONLZstdWriter) OnSealed(fn func(path string)) {
	w.mu.Lock()
	w.onSealed = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	sealed, fn := w.curPath(), w.onSealed
	err := w.closeLocked()
	w.mu.Unlock()
	if fn != nil && sealed != "" {
		fn(sealed)
	}
	return err
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	var sealed string
	fn := w.onSealed
	defer func() {
		w.mu.Unlock()
		if fn != nil && sealed != "" {
			fn(sealed)
		}
	}()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		sealed = w.curPath()
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) curPath() string {
	if w.curHour == "" {
		return ""
	}
	return w.pathForHour(w.curHour)
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickLogger writes one JSONL entry per tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(worldDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "events"), "events")}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) OnSealed(fn func(path string))        { l.w.OnSealed(fn) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// TransitionLogger writes job-transition JSONL entries (compressed).
type TransitionLogger struct{ w *JSONLZstdWriter }

func NewTransitionLogger(worldDir string) *TransitionLogger {
	return &TransitionLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "transitions"), "transitions")}
}

func (l *TransitionLogger) WriteTransition(v world.TransitionEntry) error { return l.w.Write(v) }
func (l *TransitionLogger) OnSealed(fn func(path string))                 { l.w.OnSealed(fn) }
func (l *TransitionLogger) Close() error                                  { return l.w.Close() }

// ListFiles returns dir's <prefix>-*.jsonl.zst files in chronological (name) order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ScanTicks decodes every tick entry in a compressed events file and hands it to fn in order.
// A non-nil error from fn stops the scan and is returned as is.
func ScanTicks(path string, fn func(world.TickLogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	for sc.Scan() {
		var entry world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return sc.Err()
}
