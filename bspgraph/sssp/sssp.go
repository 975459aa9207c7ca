// Package sssp implements single-source shortest path as an illustrative
// algorithm on top of bspgraph. Unlike the distributed WCC and PageRank
// plugins in dbspgraph/algorithm, this algorithm only ever runs against the
// in-memory, single-process bspgraph.Graph executor — it exists to exercise
// that executor in tests, not as a distributed algorithm plugin.
package sssp

import (
	"context"
	"math"

	"github.com/gauss1314/geaflow-go/bspgraph"
	"github.com/gauss1314/geaflow-go/bspgraph/aggregator"
	"github.com/gauss1314/geaflow-go/bspgraph/message"
	"golang.org/x/xerrors"
)

// relaxedVerticesAggregator is the name under which Calculator registers its
// per-run relaxation counter.
const relaxedVerticesAggregator = "relaxed_vertices"

// CostMessage announces the cost of reaching the recipient via FromID.
type CostMessage struct {
	FromID string
	Cost   int
}

// Type returns the type of this message.
func (CostMessage) Type() string { return "sssp_cost" }

type vertexState struct {
	dist int
	via  string
}

// Calculator computes single-source shortest path distances from one
// designated source vertex to every other reachable vertex in the graph.
// Edge values must be non-negative ints representing edge weight.
type Calculator struct {
	g    *bspgraph.Graph
	srcID string
}

// NewCalculator creates a Calculator with numWorkers compute workers.
func NewCalculator(numWorkers int) (*Calculator, error) {
	c := new(Calculator)

	var err error
	if c.g, err = bspgraph.NewGraph(bspgraph.GraphConfig{
		ComputeFn:      c.computeVertex,
		ComputeWorkers: numWorkers,
	}); err != nil {
		return nil, err
	}
	c.g.RegisterAggregator(relaxedVerticesAggregator, new(aggregator.IntAccumulator))
	return c, nil
}

// RelaxedVertices returns the number of times a vertex improved its
// best-known distance over the most recent call to Run.
func (c *Calculator) RelaxedVertices() int {
	return c.g.Aggregator(relaxedVerticesAggregator).Get().(int)
}

// SetCheckpointInterval configures how often (in supersteps) Run snapshots
// the graph's vertex state. A value of 0 disables automatic checkpointing.
func (c *Calculator) SetCheckpointInterval(supersteps int) {
	c.g.SetCheckpointInterval(supersteps)
}

// LastCheckpoint returns the most recently captured snapshot, or nil if none
// has been taken yet.
func (c *Calculator) LastCheckpoint() map[string]interface{} {
	return c.g.LastSnapshot()
}

// Restore overwrites vertex state from a previously captured checkpoint,
// allowing a fresh Calculator (with the same vertices and edges added) to
// resume from it without re-running earlier supersteps.
func (c *Calculator) Restore(snap map[string]interface{}) {
	c.g.Restore(snap)
}

// Close releases the underlying graph's resources.
func (c *Calculator) Close() error { return c.g.Close() }

// AddVertex inserts a new vertex with the given id.
func (c *Calculator) AddVertex(id string) { c.g.AddVertex(id, nil) }

// AddEdge creates a directed edge from src to dst with the given weight.
func (c *Calculator) AddEdge(src, dst string, weight int) error {
	if weight < 0 {
		return xerrors.Errorf("negative edge weights not supported")
	}
	return c.g.AddEdge(src, dst, weight)
}

// Run executes supersteps until quiescence, treating srcID as the source
// vertex: iteration 1 sets its distance to 0 and propagates; later
// iterations relax distances along incoming cost messages.
func (c *Calculator) Run(ctx context.Context, srcID string) error {
	c.srcID = srcID
	c.g.Aggregator(relaxedVerticesAggregator).Set(0)
	exec := bspgraph.NewExecutor(c.g, bspgraph.ExecutorCallbacks{
		PostStepKeepRunning: func(_ context.Context, _ *bspgraph.Graph, activeInStep int) (bool, error) {
			return activeInStep != 0, nil
		},
	})
	return exec.RunToCompletion(ctx)
}

// DistanceTo returns the shortest-path distance from the source vertex to
// dstID, as computed by the most recent call to Run.
func (c *Calculator) DistanceTo(dstID string) (int, error) {
	v, ok := c.g.Vertices()[dstID]
	if !ok {
		return 0, xerrors.Errorf("unknown vertex %q", dstID)
	}
	return v.Value().(*vertexState).dist, nil
}

func (c *Calculator) computeVertex(g *bspgraph.Graph, v *bspgraph.Vertex, msgIt message.Iterator) error {
	if g.Superstep() == 0 {
		v.SetValue(&vertexState{dist: math.MaxInt64})
	}

	st := v.Value().(*vertexState)

	best := math.MaxInt64
	var via string
	if v.ID() == c.srcID && g.Superstep() == 0 {
		best = 0
	}
	for msgIt.Next() {
		m := msgIt.Message().(*CostMessage)
		if m.Cost < best {
			best = m.Cost
			via = m.FromID
		}
	}

	if best < st.dist {
		st.dist = best
		st.via = via
		g.Aggregator(relaxedVerticesAggregator).Aggregate(1)
		for _, e := range v.Edges() {
			weight := 0
			if e.Value() != nil {
				weight = e.Value().(int)
			}
			if err := g.SendMessage(e.DstID(), &CostMessage{FromID: v.ID(), Cost: best + weight}); err != nil {
				return err
			}
		}
	}

	// Stay inactive until a better path announcement arrives.
	v.Freeze()
	return nil
}
