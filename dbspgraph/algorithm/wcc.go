package algorithm

import "encoding/binary"

// WCC computes weakly-connected-components: every vertex in a connected
// component converges to the minimum vertex id in that component.
//
// Iteration 1 seeds each vertex's value with its own id and broadcasts it to
// every neighbor. Subsequent iterations take the minimum of the current
// value and every incoming message; if that minimum is strictly smaller
// than the current value, the new minimum is stored and re-broadcast.
// Vertex ids and values are both encoded as big-endian uint64, matching the
// triangle fixture used throughout the test suite.
type WCC struct {
	MaxIterations int
}

// NewWCC constructs a WCC algorithm instance with the given iteration
// budget.
func NewWCC(iterations int) *WCC { return &WCC{MaxIterations: iterations} }

func (w *WCC) Name() string { return "wcc" }

func (w *WCC) Iterations() int { return w.MaxIterations }

func (w *WCC) ComputeVertex(id []byte, value []byte, hasValue bool, outEdges []Edge, messages [][]byte, iteration int) ([]byte, bool, []OutMessage, error) {
	if iteration == 1 {
		seed := encodeU64(decodeU64(id))
		out := make([]OutMessage, 0, len(outEdges))
		for _, e := range outEdges {
			out = append(out, OutMessage{Target: e.Target, Payload: append([]byte(nil), seed...)})
		}
		return seed, true, out, nil
	}

	current := decodeU64(value)
	best := current
	for _, m := range messages {
		if v := decodeU64(m); v < best {
			best = v
		}
	}

	if !hasValue || best < current {
		newVal := encodeU64(best)
		out := make([]OutMessage, 0, len(outEdges))
		for _, e := range outEdges {
			out = append(out, OutMessage{Target: e.Target, Payload: append([]byte(nil), newVal...)})
		}
		return newVal, true, out, nil
	}
	return value, false, nil, nil
}

func decodeU64(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.BigEndian.Uint64(buf[:])
}

func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
