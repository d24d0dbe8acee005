package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"sandcraft.ai/internal/protocol"
	simenc "sandcraft.ai/internal/sim/encoding"
	"sandcraft.ai/internal/sim/material"
	"sandcraft.ai/internal/sim/tuning"
	"sandcraft.ai/internal/sim/world"
)

// Server streams frames to observers and forwards their PAINT strokes to the world inbox.
type Server struct {
	world  *world.World
	log    *log.Logger
	limits tuning.Paint

	// LoopbackOnly rejects non-loopback clients with 403.
	LoopbackOnly bool

	upgrader websocket.Upgrader
	enc      *zstd.Encoder
	now      func() time.Time

	sessions      atomic.Int64
	paintsTotal   atomic.Uint64
	rejectedTotal atomic.Uint64
}

// Stats is reported on /metrics.
type Stats struct {
	Sessions      int64  `json:"sessions"`
	PaintsTotal   uint64 `json:"paints_total"`
	RejectedTotal uint64 `json:"rejected_total"`
}

// newFrameEncoder builds the shared frame encoder. EncodeAll is safe for concurrent use, so one
// encoder serves every session.
var newFrameEncoder = func() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
}

func NewServer(w *world.World, limits tuning.Paint, logger *log.Logger) (*Server, error) {
	enc, err := newFrameEncoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return &Server{
		world:  w,
		log:    logger,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		enc: enc,
		now: time.Now,
	}, nil
}

func (s *Server) Stats() Stats {
	return Stats{
		Sessions:      s.sessions.Load(),
		PaintsTotal:   s.paintsTotal.Load(),
		RejectedTotal: s.rejectedTotal.Load(),
	}
}

type session struct {
	id       string
	compress string
	replies  chan []byte

	rateStart int64
	rateCount int
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub, ok := s.handshake(conn)
		if !ok {
			return
		}

		sess := &session{
			id:       uuid.NewString(),
			compress: sub.Compress,
			replies:  make(chan []byte, 16),
		}
		if err := writeJSON(conn, s.welcome(sess)); err != nil {
			return
		}

		out := make(chan []byte, 8)
		joinReq := world.ObserverJoinRequest{
			SessionID:  sess.id,
			Out:        out,
			EveryTicks: sub.EveryTicks,
		}
		select {
		case s.world.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		defer func() {
			select {
			case s.world.ObserverLeave() <- sess.id:
			default:
				// World loop is stopping; nothing else to do.
			}
		}()
		if s.log != nil {
			s.log.Printf("observer joined session=%s every=%d compress=%q remote=%s", sess.id, sub.EveryTicks, sub.Compress, r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- s.writeLoop(ctx, conn, sess, out)
		}()

		// Reader loop: SUBSCRIBE updates and PAINT strokes.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handleMessage(sess, msg)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.SubscribeMsg, bool) {
	var sub protocol.SubscribeMsg

	// Handshake: must send SUBSCRIBE first.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, false
	}
	base, err := protocol.Validate(msg)
	if err != nil || base.Type != protocol.TypeSubscribe {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
		return sub, false
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return sub, false
	}
	return sub, true
}

func (s *Server) welcome(sess *session) protocol.WelcomeMsg {
	cfg := s.world.Config()
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		WorldID:         cfg.ID,
		Tick:            s.world.CurrentTick(),
		WorldParams: protocol.WorldParams{
			TickRateHz: cfg.TickRateHz,
			Width:      cfg.Width,
			Height:     cfg.Height,
			Seed:       cfg.Seed,
			Agents:     cfg.Agents,
			TieBreak:   cfg.TieBreak.String(),
			Vertical:   cfg.Agent.Vertical.String(),
		},
		Palette:  material.Palette(),
		Encoding: simenc.CellsRLE,
		Compress: sess.compress,
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session, out <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-sess.replies:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return err
			}
		case b, ok := <-out:
			if !ok {
				// The world dropped us (shutdown or replaced session).
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "world closed"), time.Now().Add(time.Second))
				return nil
			}
			kind := websocket.TextMessage
			if sess.compress == protocol.CompressZstd {
				b = s.enc.EncodeAll(b, nil)
				kind = websocket.BinaryMessage
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(kind, b); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handleMessage(sess *session, msg []byte) {
	base, err := protocol.Validate(msg)
	if err != nil {
		code := protocol.ErrProtoBadRequest
		if errors.Is(err, protocol.ErrUnknownType) {
			code = protocol.ErrBadRequest
		}
		s.reply(sess, protocol.NewError(code, err.Error()))
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reply(sess, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version"))
		return
	}

	switch base.Type {
	case protocol.TypeSubscribe:
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			return
		}
		req := world.ObserverSubscribeRequest{SessionID: sess.id, EveryTicks: sub.EveryTicks}
		select {
		case s.world.ObserverSubscribe() <- req:
		default:
			// Drop updates under load; the client may resend.
		}
	case protocol.TypePaint:
		var pm protocol.PaintMsg
		if err := json.Unmarshal(msg, &pm); err != nil {
			return
		}
		s.handlePaint(sess, pm)
	default:
		s.reply(sess, protocol.NewError(protocol.ErrBadRequest, "unexpected "+base.Type))
	}
}

func (s *Server) handlePaint(sess *session, pm protocol.PaintMsg) {
	p, code, msg := s.resolvePaint(pm)
	if code != "" {
		s.reject(sess, code, msg)
		return
	}

	nowMS := s.now().UnixMilli()
	start, count, allowed := allowWindow(nowMS, sess.rateStart, sess.rateCount, 1000, s.limits.MaxPerSecond)
	sess.rateStart, sess.rateCount = start, count
	if !allowed {
		s.reject(sess, protocol.ErrRateLimit, "too many PAINT messages")
		return
	}

	select {
	case s.world.Inbox() <- p:
		s.paintsTotal.Add(1)
	default:
		s.reject(sess, protocol.ErrWorldBusy, "paint queue full")
	}
}

// resolvePaint turns a schema-valid PAINT into a world stroke, applying the radius defaults and
// caps. A non-empty code means the stroke is rejected.
func (s *Server) resolvePaint(pm protocol.PaintMsg) (p world.Paint, code, msg string) {
	m, ok := material.Parse(pm.Material)
	if !ok || m == material.Bedrock {
		return p, protocol.ErrInvalidTarget, "material not paintable"
	}
	cfg := s.world.Config()
	if pm.X < 0 || pm.X >= cfg.Width || pm.Y < 0 || pm.Y >= cfg.Height {
		return p, protocol.ErrInvalidTarget, "outside the field"
	}

	r := s.limits.DefaultRadius
	if pm.Radius != nil {
		r = *pm.Radius
	}
	if m == material.AntiSand {
		r += s.limits.EraseExtraRadius
	}
	if s.limits.MaxRadius > 0 && r > s.limits.MaxRadius {
		r = s.limits.MaxRadius
	}
	if r < 0 {
		r = 0
	}
	return world.Paint{X: pm.X, Y: pm.Y, R: r, M: m}, "", ""
}

func (s *Server) reject(sess *session, code, msg string) {
	s.rejectedTotal.Add(1)
	s.reply(sess, protocol.NewError(code, msg))
}

func (s *Server) reply(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.replies <- b:
	default:
		// Slow reader; errors are advisory.
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
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
