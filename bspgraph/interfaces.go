package bspgraph

import (
	"github.com/gauss1314/geaflow-go/bspgraph/aggregator"
	"github.com/gauss1314/geaflow-go/bspgraph/message"
)

// Aggregator is implemented by types that provide concurrent-safe aggregation
// primitives (e.g. counters, min/max, topN) that can be registered on a Graph
// via RegisterAggregator. It is an alias of aggregator.Accumulator so that
// the concrete accumulator implementations live next to each other in the
// aggregator package instead of being defined apart from their home package.
type Aggregator = aggregator.Accumulator

// Relayer is implemented by types that can relay messages to vertices that
// are managed by a remote graph instance.
type Relayer interface {
	// Relay a message to a vertex that is not known locally. Calls to
	// Relay must return ErrDestinationIsLocal if the provided dst value is
	// not a valid remote destination.
	Relay(dst string, msg message.Message) error
}

// The RelayerFunc type is an adapter to allow the use of ordinary functions as
// Relayers. If f is a function with the appropriate signature,
// RelayerFunc(f) is a Relayer that calls f.
type RelayerFunc func(string, message.Message) error

// Relay calls f(dst, msg).
func (f RelayerFunc) Relay(dst string, msg message.Message) error {
	return f(dst, msg)
}

// ComputeFunc is a function that a graph instance invokes on each vertex when
// executing a superstep.
type ComputeFunc func(g *Graph, v *Vertex, msgIt message.Iterator) error
