package aggregator

import (
	"testing"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

type accumulatorTestSuite struct{}

var _ = gc.Suite(new(accumulatorTestSuite))

func (s *accumulatorTestSuite) TestIntAccumulator(c *gc.C) {
	var acc IntAccumulator
	c.Assert(acc.Type(), gc.Equals, "IntAccumulator")
	c.Assert(acc.Get(), gc.Equals, 0)

	acc.Aggregate(2)
	acc.Aggregate(3)
	c.Assert(acc.Get(), gc.Equals, 5)
	c.Assert(acc.Delta(), gc.Equals, 5)
	c.Assert(acc.Delta(), gc.Equals, 0)

	acc.Set(42)
	c.Assert(acc.Get(), gc.Equals, 42)
	c.Assert(acc.Delta(), gc.Equals, 0)
}

func (s *accumulatorTestSuite) TestFloat64Accumulator(c *gc.C) {
	var acc Float64Accumulator
	c.Assert(acc.Type(), gc.Equals, "Float64Accumulator")
	c.Assert(acc.Get(), gc.Equals, 0.0)

	acc.Aggregate(1.5)
	acc.Aggregate(2.5)
	c.Assert(acc.Get(), gc.Equals, 4.0)
	c.Assert(acc.Delta(), gc.Equals, 4.0)
	c.Assert(acc.Delta(), gc.Equals, 0.0)

	acc.Set(10.0)
	c.Assert(acc.Get(), gc.Equals, 10.0)
}

func (s *accumulatorTestSuite) TestAccumulatorSatisfiesInterface(c *gc.C) {
	var _ Accumulator = (*IntAccumulator)(nil)
	var _ Accumulator = (*Float64Accumulator)(nil)
}
