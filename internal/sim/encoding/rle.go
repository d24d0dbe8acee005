package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"sandcraft.ai/internal/sim/material"
)

// CellsRLE names the frame cell encoding produced by EncodeCells.
const CellsRLE = "RLE_UVARINT_B64"

// EncodeCells encodes a row-major cell field into base64(varint pairs).
// The pairs are (material_id, run_len) repeated.
func EncodeCells(cells []material.Material) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(cells) {
		m := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == m && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(m))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeCells reverses EncodeCells. limit caps the decoded length (0 = no cap) so a hostile
// run length cannot balloon memory.
func DecodeCells(b64 string, limit int) ([]material.Material, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []material.Material
	for i := 0; i < len(raw); {
		m, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if m >= uint64(material.Count) {
			return nil, fmt.Errorf("material id out of range: %d", m)
		}
		if limit > 0 && uint64(len(out))+run > uint64(limit) {
			return nil, fmt.Errorf("decoded length exceeds %d cells", limit)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, material.Material(m))
		}
	}
	return out, nil
}
