package bspgraph

import (
	"context"
	"testing"

	"github.com/gauss1314/geaflow-go/bspgraph/message"
	"golang.org/x/xerrors"
	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

type graphTestSuite struct{}

var _ = gc.Suite(new(graphTestSuite))

type intMessage int

func (intMessage) Type() string { return "int" }

func sumComputeFn(g *Graph, v *Vertex, msgIt message.Iterator) error {
	total := 0
	if v.Value() != nil {
		total = v.Value().(int)
	}
	received := false
	for msgIt.Next() {
		total += int(msgIt.Message().(intMessage))
		received = true
	}
	v.SetValue(total)
	if !received {
		v.Freeze()
	}
	return nil
}

func (s *graphTestSuite) TestAddVertexAndEdge(c *gc.C) {
	g, err := NewGraph(GraphConfig{ComputeFn: sumComputeFn})
	c.Assert(err, gc.IsNil)
	defer func() { c.Assert(g.Close(), gc.IsNil) }()

	g.AddVertex("a", 1)
	g.AddVertex("b", 2)
	c.Assert(g.AddEdge("a", "b", nil), gc.IsNil)
	c.Assert(xerrors.Is(g.AddEdge("missing", "b", nil), ErrUnknownEdgeSource), gc.Equals, true)

	c.Assert(len(g.Vertices()), gc.Equals, 2)
}

func (s *graphTestSuite) TestSendMessageAndPendingMessageCount(c *gc.C) {
	g, err := NewGraph(GraphConfig{ComputeFn: sumComputeFn})
	c.Assert(err, gc.IsNil)
	defer func() { c.Assert(g.Close(), gc.IsNil) }()

	g.AddVertex("a", 0)
	g.AddVertex("b", 0)
	c.Assert(g.PendingMessageCount(), gc.Equals, 0)

	c.Assert(g.SendMessage("b", intMessage(5)), gc.IsNil)
	c.Assert(g.PendingMessageCount(), gc.Equals, 1)

	c.Assert(xerrors.Is(g.SendMessage("unknown", intMessage(1)), ErrInvalidMessageDestination), gc.Equals, true)
}

func (s *graphTestSuite) TestSnapshotAndRestore(c *gc.C) {
	g, err := NewGraph(GraphConfig{ComputeFn: sumComputeFn})
	c.Assert(err, gc.IsNil)
	defer func() { c.Assert(g.Close(), gc.IsNil) }()

	g.AddVertex("a", 10)
	g.AddVertex("b", 20)

	c.Assert(g.LastSnapshot(), gc.IsNil)
	snap := g.Snapshot()
	c.Assert(snap["a"], gc.Equals, 10)
	c.Assert(g.LastSnapshot()["b"], gc.Equals, 20)

	g.Vertices()["a"].SetValue(999)
	g.Restore(snap)
	c.Assert(g.Vertices()["a"].Value(), gc.Equals, 10)
}

func (s *graphTestSuite) TestCheckpointIntervalAutoSnapshot(c *gc.C) {
	g, err := NewGraph(GraphConfig{ComputeFn: sumComputeFn, CheckpointInterval: 1})
	c.Assert(err, gc.IsNil)
	defer func() { c.Assert(g.Close(), gc.IsNil) }()

	c.Assert(g.CheckpointInterval(), gc.Equals, 1)
	g.AddVertex("a", 1)
	c.Assert(g.SendMessage("a", intMessage(1)), gc.IsNil)

	exec := NewExecutor(g, ExecutorCallbacks{
		PostStepKeepRunning: func(context.Context, *Graph, int) (bool, error) { return false, nil },
	})
	c.Assert(exec.RunToCompletion(context.Background()), gc.IsNil)
	c.Assert(g.LastSnapshot(), gc.IsNil)

	g.SetCheckpointInterval(0)
	c.Assert(g.CheckpointInterval(), gc.Equals, 0)
}
