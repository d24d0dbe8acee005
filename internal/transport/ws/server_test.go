package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"sandcraft.ai/internal/protocol"
	simenc "sandcraft.ai/internal/sim/encoding"
	"sandcraft.ai/internal/sim/grid"
	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

func startWorld(t *testing.T) *world.World {
	t.Helper()
	w, err := world.New(world.WorldConfig{
		Width:      24,
		Height:     16,
		Seed:       5,
		Agents:     2,
		TickRateHz: 200,
		Gen:        grid.GenConfig{FloorRatio: 1, Floor: material.Wood},
	})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newServer(t *testing.T, w *world.World, limits tuning.Paint) *Server {
	t.Helper()
	s, err := NewServer(w, limits, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestNewServer_EncoderError(t *testing.T) {
	orig := newFrameEncoder
	t.Cleanup(func() { newFrameEncoder = orig })
	newFrameEncoder = func() (*zstd.Encoder, error) { return nil, errors.New("no encoder") }

	s, err := NewServer(nil, tuning.Defaults().Paint, nil)
	if err == nil || s != nil || !strings.Contains(err.Error(), "no encoder") {
		t.Fatalf("s=%v err=%v want encoder error", s, err)
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readType reads text messages until one of type typ arrives, skipping frames.
func readType(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		kind, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ {
			return b
		}
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, every int, compress string) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		EveryTicks:      every,
		Compress:        compress,
	})
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeWelcome), &welcome); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	return welcome
}

func readError(t *testing.T, conn *websocket.Conn) protocol.ErrorMsg {
	t.Helper()
	var e protocol.ErrorMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeError), &e); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	return e
}

func paint(x, y int, mat string) protocol.PaintMsg {
	return protocol.PaintMsg{Type: protocol.TypePaint, ProtocolVersion: protocol.Version, X: x, Y: y, Material: mat}
}

func TestServer_WelcomeThenFrames(t *testing.T) {
	w := startWorld(t)
	s := newServer(t, w, tuning.Defaults().Paint)
	conn := dial(t, startServer(t, s))

	welcome := subscribe(t, conn, 1, "")
	if _, err := uuid.Parse(welcome.SessionID); err != nil {
		t.Fatalf("session_id %q is not a uuid: %v", welcome.SessionID, err)
	}
	if welcome.WorldID != "sandbox" || welcome.WorldParams.Width != 24 || welcome.WorldParams.Height != 16 {
		t.Fatalf("welcome=%+v", welcome)
	}
	if welcome.WorldParams.TieBreak != "parity" || welcome.WorldParams.Vertical != "wrap" {
		t.Fatalf("world params=%+v", welcome.WorldParams)
	}
	if len(welcome.Palette) != int(material.Count) || welcome.Encoding != simenc.CellsRLE {
		t.Fatalf("palette=%v encoding=%s", welcome.Palette, welcome.Encoding)
	}

	var frame protocol.FrameMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeFrame), &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	cells, err := simenc.DecodeCells(frame.Cells, 24*16)
	if err != nil || len(cells) != 24*16 {
		t.Fatalf("DecodeCells: len=%d err=%v", len(cells), err)
	}
	if len(frame.Agents) != 2 {
		t.Fatalf("agents=%d want 2", len(frame.Agents))
	}
}

func TestServer_ZstdFrames(t *testing.T) {
	w := startWorld(t)
	s := newServer(t, w, tuning.Defaults().Paint)
	conn := dial(t, startServer(t, s))

	if welcome := subscribe(t, conn, 1, protocol.CompressZstd); welcome.Compress != protocol.CompressZstd {
		t.Fatalf("compress=%q", welcome.Compress)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("frame kind=%d want binary", kind)
	}
	raw, err := dec.DecodeAll(b, nil)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	var frame protocol.FrameMsg
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != protocol.TypeFrame {
		t.Fatalf("frame=%+v err=%v", frame, err)
	}
}

func TestServer_HandshakeRejects(t *testing.T) {
	w := startWorld(t)
	s := newServer(t, w, tuning.Defaults().Paint)
	url := startServer(t, s)

	cases := []struct {
		name string
		msg  any
	}{
		{"paint first", paint(1, 1, "SAND")},
		{"bad version", protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: "0.9"}},
		{"schema", map[string]any{"type": "SUBSCRIBE", "protocol_version": "1.0", "every_ticks": -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, url)
			send(t, conn, tc.msg)
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			for {
				_, _, err := conn.ReadMessage()
				if err == nil {
					continue
				}
				if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
					t.Fatalf("err=%v want policy violation close", err)
				}
				return
			}
		})
	}
}

func TestServer_PaintErrors(t *testing.T) {
	w := startWorld(t)
	s := newServer(t, w, tuning.Defaults().Paint)
	conn := dial(t, startServer(t, s))
	subscribe(t, conn, 3600, "")

	cases := []struct {
		name string
		msg  any
		code string
	}{
		{"bedrock", paint(1, 1, "BEDROCK"), protocol.ErrProtoBadRequest},
		{"unknown material", paint(1, 1, "LAVA"), protocol.ErrProtoBadRequest},
		{"outside", paint(24, 1, "SAND"), protocol.ErrInvalidTarget},
		{"negative", paint(1, -1, "SAND"), protocol.ErrInvalidTarget},
		{"unknown type", map[string]any{"type": "ACT", "protocol_version": "1.0"}, protocol.ErrBadRequest},
		{"server message", protocol.NewError(protocol.ErrInternal, "x"), protocol.ErrBadRequest},
		{"version", protocol.PaintMsg{Type: protocol.TypePaint, ProtocolVersion: "2.0", Material: "SAND"}, protocol.ErrProtoVersion},
	}
	for _, tc := range cases {
		send(t, conn, tc.msg)
		if e := readError(t, conn); e.Code != tc.code {
			t.Fatalf("%s: code=%s want %s (%s)", tc.name, e.Code, tc.code, e.Message)
		}
	}
	if st := s.Stats(); st.PaintsTotal != 0 || st.Sessions != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestServer_PaintReachesWorldAndRateLimits(t *testing.T) {
	w := startWorld(t)
	limits := tuning.Defaults().Paint
	limits.MaxPerSecond = 2
	s := newServer(t, w, limits)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	conn := dial(t, startServer(t, s))
	subscribe(t, conn, 3600, "")

	r := 0
	p := paint(3, 3, "WATER")
	p.Radius = &r
	send(t, conn, p)
	send(t, conn, paint(10, 3, "SAND"))
	send(t, conn, paint(12, 3, "SAND"))
	if e := readError(t, conn); e.Code != protocol.ErrRateLimit {
		t.Fatalf("code=%s want %s", e.Code, protocol.ErrRateLimit)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Stats().PaintsTotal < 2 || w.Metrics().PaintedCellsTotal == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("paints never applied: server=%+v world=%d", s.Stats(), w.Metrics().PaintedCellsTotal)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := s.Stats(); st.PaintsTotal != 2 || st.RejectedTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestResolvePaint(t *testing.T) {
	limits := tuning.Paint{MaxRadius: 10, DefaultRadius: 8, EraseExtraRadius: 4}
	w, err := world.New(world.WorldConfig{Width: 32, Height: 32})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	s := newServer(t, w, limits)

	one, big := 1, 64
	cases := []struct {
		name     string
		x, y     int
		mat      string
		radius   *int
		wantR    int
		wantM    material.Material
		wantCode string
	}{
		{"default radius", 16, 16, "SAND", nil, 8, material.Sand, ""},
		{"explicit radius", 16, 16, "WATER", &one, 1, material.Water, ""},
		{"erase grows", 16, 16, "ANTISAND", &one, 5, material.AntiSand, ""},
		{"erase capped", 16, 16, "ANTISAND", nil, 10, material.AntiSand, ""},
		{"capped", 0, 31, "EMPTY", &big, 10, material.Empty, ""},
		{"bedrock", 1, 1, "BEDROCK", nil, 0, 0, protocol.ErrInvalidTarget},
		{"unknown", 1, 1, "LAVA", nil, 0, 0, protocol.ErrInvalidTarget},
		{"outside x", 32, 1, "SAND", nil, 0, 0, protocol.ErrInvalidTarget},
		{"outside y", 1, 32, "SAND", nil, 0, 0, protocol.ErrInvalidTarget},
	}
	for _, tc := range cases {
		pm := paint(tc.x, tc.y, tc.mat)
		pm.Radius = tc.radius
		p, code, _ := s.resolvePaint(pm)
		if code != tc.wantCode {
			t.Fatalf("%s: code=%q want %q", tc.name, code, tc.wantCode)
		}
		if code != "" {
			continue
		}
		want := world.Paint{X: tc.x, Y: tc.y, R: tc.wantR, M: tc.wantM}
		if p != want {
			t.Fatalf("%s: paint=%+v want %+v", tc.name, p, want)
		}
	}
}

func TestServer_LoopbackOnly(t *testing.T) {
	w, err := world.New(world.WorldConfig{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	s := newServer(t, w, tuning.Defaults().Paint)
	s.LoopbackOnly = true

	req := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rr := httptest.NewRecorder()
	s.Handler()(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rr.Code)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80":   true,
		"[::1]:9000":     true,
		"::1":            true,
		"10.0.0.1:80":    false,
		"example.com:80": false,
		"":               false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestAllowWindow(t *testing.T) {
	var start int64
	count := 0
	var ok bool
	for i := 0; i < 3; i++ {
		start, count, ok = allowWindow(1000, start, count, 1000, 3)
		if !ok {
			t.Fatalf("event %d rejected inside the window", i)
		}
	}
	if _, _, ok = allowWindow(1999, start, count, 1000, 3); ok {
		t.Fatalf("fourth event in window allowed")
	}
	start, count, ok = allowWindow(2000, start, count, 1000, 3)
	if !ok || start != 2000 || count != 1 {
		t.Fatalf("window did not reset: start=%d count=%d ok=%v", start, count, ok)
	}
	if _, _, ok = allowWindow(5, 0, 99, 1000, 0); !ok {
		t.Fatalf("zero max should allow")
	}
}
