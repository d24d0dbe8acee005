package world

import (
	"encoding/json"

	"sandcraft.ai/internal/protocol"
	simenc "sandcraft.ai/internal/sim/encoding"
)

// ObserverJoinRequest registers a read-only observer session that receives a FRAME every
// EveryTicks ticks on Out. The world loop closes Out when the session leaves or the loop exits.
type ObserverJoinRequest struct {
	SessionID  string
	Out        chan []byte
	EveryTicks int
}

// ObserverSubscribeRequest updates an existing observer session's frame cadence.
type ObserverSubscribeRequest struct {
	SessionID  string
	EveryTicks int
}

type observerClient struct {
	id    string
	out   chan []byte
	every uint64
}

const maxFrameEveryTicks = 3600

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.out)
	}
	w.observers[req.SessionID] = &observerClient{
		id:    req.SessionID,
		out:   req.Out,
		every: uint64(clampInt(req.EveryTicks, 1, maxFrameEveryTicks, w.cfg.FrameEveryTicks)),
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.every = uint64(clampInt(req.EveryTicks, 1, maxFrameEveryTicks, int(c.every)))
}

func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.out)
}

func (w *World) closeObservers() {
	for id, c := range w.observers {
		delete(w.observers, id)
		close(c.out)
	}
}

// stepObservers fans the post-tick frame out to every session due this tick. The frame is
// encoded at most once per tick.
func (w *World) stepObservers(nowTick uint64) {
	if len(w.observers) == 0 {
		return
	}
	var frame []byte
	for _, c := range w.observers {
		if nowTick%c.every != 0 {
			continue
		}
		if frame == nil {
			b, err := json.Marshal(w.buildFrame(nowTick))
			if err != nil {
				return
			}
			frame = b
		}
		sendLatest(c.out, frame)
	}
}

func (w *World) buildFrame(nowTick uint64) protocol.FrameMsg {
	agents := make([]protocol.AgentState, 0, len(w.agents))
	for _, a := range w.agents {
		agents = append(agents, protocol.AgentState{
			X:   a.X,
			Y:   a.Y,
			VY:  a.VY,
			Dir: a.Dir.String(),
			Job: a.Job.String(),
		})
	}
	return protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		Width:           w.grid.Width(),
		Height:          w.grid.Height(),
		Encoding:        simenc.CellsRLE,
		Cells:           simenc.EncodeCells(w.grid.Cells()),
		Agents:          agents,
	}
}

// Frame returns the current state as a FRAME message. Not safe while Run is active.
func (w *World) Frame() protocol.FrameMsg { return w.buildFrame(w.tick.Load()) }

func clampInt(v, lo, hi, def int) int {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
