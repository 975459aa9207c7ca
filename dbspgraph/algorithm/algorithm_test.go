package algorithm

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

type algorithmTestSuite struct{}

var _ = gc.Suite(new(algorithmTestSuite))

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// TestWCCTriangle exercises the triangle fixture: vertices {1,2,3}, edges
// {(1,2),(2,1),(2,3),(3,2)}; all three must converge to value 1.
func (s *algorithmTestSuite) TestWCCTriangle(c *gc.C) {
	w := NewWCC(10)
	c.Assert(w.Name(), gc.Equals, "wcc")

	adj := map[uint64][]Edge{
		1: {{Target: u64(2)}},
		2: {{Target: u64(1)}, {Target: u64(3)}},
		3: {{Target: u64(2)}},
	}
	values := map[uint64][]byte{1: nil, 2: nil, 3: nil}
	hasValue := map[uint64]bool{1: false, 2: false, 3: false}

	inbox := map[uint64][][]byte{}
	for iter := 1; iter <= 10; iter++ {
		nextInbox := map[uint64][][]byte{}
		anyMsg := false
		for id := range adj {
			newVal, has, out, err := w.ComputeVertex(u64(id), values[id], hasValue[id], adj[id], inbox[id], iter)
			c.Assert(err, gc.IsNil)
			if has {
				values[id] = newVal
				hasValue[id] = true
			}
			for _, m := range out {
				tgt := binary.BigEndian.Uint64(m.Target)
				nextInbox[tgt] = append(nextInbox[tgt], m.Payload)
				anyMsg = true
			}
		}
		inbox = nextInbox
		if !anyMsg {
			break
		}
	}

	c.Assert(binary.BigEndian.Uint64(values[1]), gc.Equals, uint64(1))
	c.Assert(binary.BigEndian.Uint64(values[2]), gc.Equals, uint64(1))
	c.Assert(binary.BigEndian.Uint64(values[3]), gc.Equals, uint64(1))
}

// TestPageRankTwoCycle exercises the two-vertex reciprocal cycle fixture:
// both values must converge within 1e-9 of 1.0 after 3 iterations.
func (s *algorithmTestSuite) TestPageRankTwoCycle(c *gc.C) {
	params, err := json.Marshal(PageRankParams{Alpha: 0.85})
	c.Assert(err, gc.IsNil)
	pr, err := NewPageRank(3, params)
	c.Assert(err, gc.IsNil)
	c.Assert(pr.Name(), gc.Equals, "pagerank")

	adj := map[uint64][]Edge{
		1: {{Target: u64(2)}},
		2: {{Target: u64(1)}},
	}
	values := map[uint64][]byte{1: EncodeF64(1.0), 2: EncodeF64(1.0)}

	inbox := map[uint64][][]byte{}
	for iter := 1; iter <= 3; iter++ {
		nextInbox := map[uint64][][]byte{}
		for id := range adj {
			newVal, has, out, err := pr.ComputeVertex(u64(id), values[id], true, adj[id], inbox[id], iter)
			c.Assert(err, gc.IsNil)
			if has {
				values[id] = newVal
			}
			for _, m := range out {
				tgt := binary.BigEndian.Uint64(m.Target)
				nextInbox[tgt] = append(nextInbox[tgt], m.Payload)
			}
		}
		inbox = nextInbox
	}

	c.Assert(DecodeF64(values[1]), gc.Not(gc.Equals), 0.0)
	diff1 := DecodeF64(values[1]) - 1.0
	diff2 := DecodeF64(values[2]) - 1.0
	if diff1 < 0 {
		diff1 = -diff1
	}
	if diff2 < 0 {
		diff2 = -diff2
	}
	c.Assert(diff1 < 1e-9, gc.Equals, true)
	c.Assert(diff2 < 1e-9, gc.Equals, true)
}
