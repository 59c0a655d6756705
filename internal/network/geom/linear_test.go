package geom

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearReferencing(t *testing.T) {
	// L-shaped, 15 long: 10 along x then 5 up.
	ls := orb.LineString{{0, 0}, {10, 0}, {10, 5}}

	t.Run("length and degeneracy", func(t *testing.T) {
		assert.InDelta(t, 15.0, Length(ls), 1e-9)
		assert.False(t, IsDegenerate(ls))
		assert.True(t, IsDegenerate(orb.LineString{{1, 1}}))
		assert.True(t, IsDegenerate(orb.LineString{{1, 1}, {1, 1}}))
	})

	t.Run("locate snaps to closest point", func(t *testing.T) {
		f, d := Locate(ls, orb.Point{5, 2})
		assert.InDelta(t, 5.0/15.0, f, 1e-9)
		assert.InDelta(t, 2.0, d, 1e-9)

		f, d = Locate(ls, orb.Point{10, 0})
		assert.InDelta(t, 10.0/15.0, f, 1e-9)
		assert.InDelta(t, 0.0, d, 1e-9)
	})

	t.Run("point at fraction", func(t *testing.T) {
		assert.Equal(t, orb.Point{0, 0}, PointAt(ls, 0))
		assert.Equal(t, orb.Point{10, 5}, PointAt(ls, 1))
		p := PointAt(ls, 12.0/15.0)
		assert.InDelta(t, 10.0, p[0], 1e-9)
		assert.InDelta(t, 2.0, p[1], 1e-9)
	})

	t.Run("slice keeps interior vertices", func(t *testing.T) {
		part := Slice(ls, 5.0/15.0, 12.0/15.0)
		require.Len(t, part, 3)
		assert.InDelta(t, 5.0, part[0][0], 1e-9)
		assert.Equal(t, orb.Point{10, 0}, part[1])
		assert.InDelta(t, 7.0, Length(part), 1e-9)
	})

	t.Run("split halves share cut point", func(t *testing.T) {
		left, right := SplitAt(ls, 10.0/15.0)
		require.NotNil(t, left)
		require.NotNil(t, right)
		assert.Equal(t, End(left), Start(right))
		assert.InDelta(t, Length(ls), Length(left)+Length(right), 1e-9)
	})

	t.Run("empty slice", func(t *testing.T) {
		assert.Nil(t, Slice(ls, 0.5, 0.5))
		assert.Nil(t, Slice(ls, 0.7, 0.2))
	})

	t.Run("concat drops duplicate joints", func(t *testing.T) {
		left, right := SplitAt(ls, 0.5)
		joined := Concat(left, right)
		require.Len(t, joined, 4)
		assert.Equal(t, orb.Point{7.5, 0}, joined[1])
		assert.InDelta(t, Length(ls), Length(joined), 1e-9)
	})

	t.Run("equal within tolerance", func(t *testing.T) {
		shifted := orb.LineString{{0, 0.005}, {10, 0}, {10, 5}}
		assert.True(t, EqualWithin(ls, shifted, 0.01))
		assert.False(t, EqualWithin(ls, shifted, 0.001))
		assert.False(t, EqualWithin(ls, orb.LineString{{0, 0}, {10, 5}}, 100))
	})
}

func TestIntersections(t *testing.T) {
	t.Run("proper crossing", func(t *testing.T) {
		a := orb.LineString{{0, 0}, {10, 0}}
		b := orb.LineString{{5, -5}, {5, 5}}
		cs := Intersections(a, b, 0.01)
		require.Len(t, cs, 1)
		assert.InDelta(t, 5.0, cs[0].Point[0], 1e-9)
		assert.InDelta(t, 0.5, cs[0].FractionA, 1e-9)
		assert.InDelta(t, 0.5, cs[0].FractionB, 1e-9)
	})

	t.Run("shared vertex reported once", func(t *testing.T) {
		a := orb.LineString{{0, 0}, {5, 0}, {10, 0}}
		b := orb.LineString{{5, -5}, {5, 0}, {5, 5}}
		cs := Intersections(a, b, 0.01)
		require.Len(t, cs, 1)
		assert.InDelta(t, 0.5, cs[0].FractionA, 1e-9)
	})

	t.Run("parallel lines never cross", func(t *testing.T) {
		a := orb.LineString{{0, 0}, {10, 0}}
		b := orb.LineString{{0, 1}, {10, 1}}
		assert.Empty(t, Intersections(a, b, 0.01))
	})

	t.Run("ordered along first line", func(t *testing.T) {
		a := orb.LineString{{0, 0}, {10, 0}}
		b := orb.LineString{{8, -1}, {8, 1}, {2, 1}, {2, -1}}
		cs := Intersections(a, b, 0.01)
		require.Len(t, cs, 2)
		assert.Less(t, cs[0].FractionA, cs[1].FractionA)
		assert.InDelta(t, 2.0, cs[0].Point[0], 1e-9)
	})
}
