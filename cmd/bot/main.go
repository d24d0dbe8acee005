package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"sandcraft.ai/internal/protocol"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		everyTicks = flag.Int("every_ticks", 10, "frame cadence to subscribe with")
		paintEvery = flag.Int("paint_every", 3, "paint once per this many frames")
		seed       = flag.Int64("seed", 0, "rng seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		EveryTicks:      *everyTicks,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	p := &painter{rng: rand.New(rand.NewSource(*seed)), every: *paintEvery}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			p.welcome(w)
			logger.Printf("WELCOME session=%s world=%s %dx%d tick_rate=%d seed=%d",
				w.SessionID, w.WorldID, w.WorldParams.Width, w.WorldParams.Height, w.WorldParams.TickRateHz, w.WorldParams.Seed)

		case protocol.TypeFrame:
			var f protocol.FrameMsg
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			if pm, ok := p.onFrame(f); ok {
				_ = conn.WriteJSON(pm)
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				p.onError(e)
				logger.Printf("ERROR code=%s msg=%s", e.Code, e.Message)
			}
		}
	}
}

// painter drops random strokes into the upper half of the field, mostly sand and water with
// the odd eraser or wood plank.
type painter struct {
	rng    *rand.Rand
	every  int
	width  int
	height int
	frames int
	pause  int // frames left to skip after a retryable error
}

var strokeMaterials = []string{"SAND", "SAND", "SAND", "WATER", "WATER", "WOOD", "ANTISAND", "TREE"}

func (p *painter) welcome(w protocol.WelcomeMsg) {
	p.width = w.WorldParams.Width
	p.height = w.WorldParams.Height
}

func (p *painter) onFrame(f protocol.FrameMsg) (protocol.PaintMsg, bool) {
	if p.width <= 0 || p.height <= 0 {
		p.width, p.height = f.Width, f.Height
	}
	p.frames++
	if p.pause > 0 {
		p.pause--
		return protocol.PaintMsg{}, false
	}
	if p.every > 1 && p.frames%p.every != 0 {
		return protocol.PaintMsg{}, false
	}
	return p.stroke(), true
}

func (p *painter) onError(e protocol.ErrorMsg) {
	if protocol.Retryable(e.Code) {
		p.pause = 5
	}
}

func (p *painter) stroke() protocol.PaintMsg {
	r := 1 + p.rng.Intn(4)
	top := p.height / 2
	if top < 1 {
		top = 1
	}
	return protocol.PaintMsg{
		Type:            protocol.TypePaint,
		ProtocolVersion: protocol.Version,
		X:               p.rng.Intn(p.width),
		Y:               p.rng.Intn(top),
		Radius:          &r,
		Material:        strokeMaterials[p.rng.Intn(len(strokeMaterials))],
	}
}
