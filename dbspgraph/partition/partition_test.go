package partition

import (
	"testing"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

type partitionTestSuite struct{}

var _ = gc.Suite(new(partitionTestSuite))

func (s *partitionTestSuite) TestDeterministic(c *gc.C) {
	ids := [][]byte{[]byte("a"), []byte("b"), []byte("vertex-1234"), {0, 1, 2, 3, 255}}
	for _, id := range ids {
		first := Of(id, 7)
		for i := 0; i < 50; i++ {
			c.Assert(Of(id, 7), gc.Equals, first)
		}
	}
}

func (s *partitionTestSuite) TestInRange(c *gc.C) {
	for n := 1; n <= 16; n++ {
		for i := 0; i < 200; i++ {
			id := []byte{byte(i), byte(i >> 8), byte(n)}
			p := Of(id, n)
			c.Assert(p, gc.Not(gc.Equals), -1)
			c.Assert(p >= 0 && p < n, gc.Equals, true)
		}
	}
}

func (s *partitionTestSuite) TestZeroOrNegativeTreatedAsOne(c *gc.C) {
	id := []byte("x")
	c.Assert(Of(id, 0), gc.Equals, 0)
	c.Assert(Of(id, -3), gc.Equals, 0)
}
