package geom

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Crossing is a point shared by two lines, with its position on each.
type Crossing struct {
	Point     orb.Point
	FractionA float64
	FractionB float64
}

// Intersections returns the points where a and b touch or cross, ordered by
// position along a. Collinear overlaps are not reported. Points closer than
// tol to an already reported crossing are folded into it.
func Intersections(a, b orb.LineString, tol float64) []Crossing {
	if len(a) < 2 || len(b) < 2 || !a.Bound().Pad(tol).Intersects(b.Bound()) {
		return nil
	}
	cumA, cumB := cumulative(a), cumulative(b)
	totalA, totalB := cumA[len(cumA)-1], cumB[len(cumB)-1]
	if totalA == 0 || totalB == 0 {
		return nil
	}

	var out []Crossing
	for i := 1; i < len(a); i++ {
		for j := 1; j < len(b); j++ {
			p, t, u, ok := segmentIntersection(a[i-1], a[i], b[j-1], b[j])
			if !ok {
				continue
			}
			c := Crossing{
				Point:     p,
				FractionA: clamp01((cumA[i-1] + t*(cumA[i]-cumA[i-1])) / totalA),
				FractionB: clamp01((cumB[j-1] + u*(cumB[j]-cumB[j-1])) / totalB),
			}
			if !containsNear(out, p, tol) {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FractionA < out[j].FractionA })
	return out
}

func containsNear(cs []Crossing, p orb.Point, tol float64) bool {
	for _, c := range cs {
		if planar.Distance(c.Point, p) <= tol {
			return true
		}
	}
	return false
}

// segmentIntersection intersects p1p2 with q1q2. Parallel segments never
// intersect here.
func segmentIntersection(p1, p2, q1, q2 orb.Point) (orb.Point, float64, float64, bool) {
	r := orb.Point{p2[0] - p1[0], p2[1] - p1[1]}
	s := orb.Point{q2[0] - q1[0], q2[1] - q1[1]}
	den := cross(r, s)
	if math.Abs(den) < 1e-12 {
		return orb.Point{}, 0, 0, false
	}
	qp := orb.Point{q1[0] - p1[0], q1[1] - p1[1]}
	t := cross(qp, s) / den
	u := cross(qp, r) / den
	const slack = 1e-12
	if t < -slack || t > 1+slack || u < -slack || u > 1+slack {
		return orb.Point{}, 0, 0, false
	}
	t, u = clamp01(t), clamp01(u)
	return orb.Point{p1[0] + t*r[0], p1[1] + t*r[1]}, t, u, true
}

func cross(a, b orb.Point) float64 {
	return a[0]*b[1] - a[1]*b[0]
}

// BoundOf returns the bound spanned by the given points.
func BoundOf(points ...orb.Point) orb.Bound {
	return orb.MultiPoint(points).Bound()
}
