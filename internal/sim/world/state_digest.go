package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// stateDigest hashes the tick, the field and every agent's state. Two worlds fed the same seed,
// config and paints produce the same digest at every tick.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteU64(h, &tmp, uint64(w.grid.Width()))
	digestWriteU64(h, &tmp, uint64(w.grid.Height()))

	cells := w.grid.Cells()
	buf := make([]byte, len(cells))
	for i, c := range cells {
		buf[i] = byte(c)
	}
	h.Write(buf)

	digestWriteU64(h, &tmp, uint64(len(w.agents)))
	for _, a := range w.agents {
		digestWriteF64(h, &tmp, a.X)
		digestWriteF64(h, &tmp, a.Y)
		digestWriteF64(h, &tmp, a.VY)
		digestWriteF64(h, &tmp, a.Speed)
		h.Write([]byte{byte(a.Dir), byte(a.Job), boolByte(a.DigStarted)})
		digestWriteI64(h, &tmp, int64(a.DigOrigin[0]))
		digestWriteI64(h, &tmp, int64(a.DigOrigin[1]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Digest returns the digest of the current state. Not safe while Run is active.
func (w *World) Digest() string { return w.stateDigest(w.tick.Load()) }

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
