// Package geom implements linear referencing on planar line strings.
//
// All positions are fractions of arc length in [0,1] relative to one line.
// Coordinates are assumed to be projected (metres); distances are planar.
package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// fractionEpsilon absorbs float noise when comparing linear positions.
const fractionEpsilon = 1e-9

// Length returns the planar length of ls.
func Length(ls orb.LineString) float64 {
	return planar.Length(ls)
}

// IsDegenerate reports whether ls has fewer than two vertices or no length.
func IsDegenerate(ls orb.LineString) bool {
	return len(ls) < 2 || Length(ls) <= 0
}

// Start returns the first vertex.
func Start(ls orb.LineString) orb.Point { return ls[0] }

// End returns the last vertex.
func End(ls orb.LineString) orb.Point { return ls[len(ls)-1] }

// Distance is the planar distance between two points.
func Distance(a, b orb.Point) float64 {
	return planar.Distance(a, b)
}

// cumulative returns the arc length at every vertex.
func cumulative(ls orb.LineString) []float64 {
	out := make([]float64, len(ls))
	for i := 1; i < len(ls); i++ {
		out[i] = out[i-1] + planar.Distance(ls[i-1], ls[i])
	}
	return out
}

// Locate projects p onto ls and returns the fraction of the closest point and
// its distance from p. Ties resolve to the earliest position along the line.
func Locate(ls orb.LineString, p orb.Point) (fraction, dist float64) {
	if len(ls) == 0 {
		return 0, math.Inf(1)
	}
	if len(ls) == 1 {
		return 0, planar.Distance(ls[0], p)
	}
	cum := cumulative(ls)
	total := cum[len(cum)-1]
	if total == 0 {
		return 0, planar.Distance(ls[0], p)
	}
	best := math.Inf(1)
	bestAt := 0.0
	for i := 1; i < len(ls); i++ {
		q, t := projectOnSegment(ls[i-1], ls[i], p)
		d := planar.Distance(q, p)
		if d < best-fractionEpsilon {
			best = d
			bestAt = cum[i-1] + t*(cum[i]-cum[i-1])
		}
	}
	return clamp01(bestAt / total), best
}

// DistanceTo returns the distance from p to the closest point of ls.
func DistanceTo(ls orb.LineString, p orb.Point) float64 {
	_, d := Locate(ls, p)
	return d
}

// projectOnSegment returns the closest point to p on segment ab and its
// parameter in [0,1].
func projectOnSegment(a, b, p orb.Point) (orb.Point, float64) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	den := dx*dx + dy*dy
	if den == 0 {
		return a, 0
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / den
	t = clamp01(t)
	return orb.Point{a[0] + t*dx, a[1] + t*dy}, t
}

// PointAt returns the point at fraction f along ls.
func PointAt(ls orb.LineString, f float64) orb.Point {
	f = clamp01(f)
	cum := cumulative(ls)
	total := cum[len(cum)-1]
	target := f * total
	for i := 1; i < len(ls); i++ {
		if target <= cum[i] || i == len(ls)-1 {
			seg := cum[i] - cum[i-1]
			if seg == 0 {
				return ls[i]
			}
			t := clamp01((target - cum[i-1]) / seg)
			a, b := ls[i-1], ls[i]
			return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
		}
	}
	return ls[len(ls)-1]
}

// Slice returns the part of ls between fractions from and to. The result is
// nil when the range is empty.
func Slice(ls orb.LineString, from, to float64) orb.LineString {
	from, to = clamp01(from), clamp01(to)
	if to-from <= fractionEpsilon || len(ls) < 2 {
		return nil
	}
	cum := cumulative(ls)
	total := cum[len(cum)-1]
	if total == 0 {
		return nil
	}
	lo, hi := from*total, to*total
	out := orb.LineString{PointAt(ls, from)}
	for i := 1; i < len(ls)-1; i++ {
		if cum[i] > lo+fractionEpsilon*total && cum[i] < hi-fractionEpsilon*total {
			out = append(out, ls[i])
		}
	}
	out = append(out, PointAt(ls, to))
	return out
}

// SplitAt cuts ls at fraction f. Both halves share the cut point.
func SplitAt(ls orb.LineString, f float64) (orb.LineString, orb.LineString) {
	return Slice(ls, 0, f), Slice(ls, f, 1)
}

// Concat joins lines end to start, dropping duplicated joint vertices.
func Concat(lines ...orb.LineString) orb.LineString {
	var out orb.LineString
	for _, ls := range lines {
		for i, p := range ls {
			if i == 0 && len(out) > 0 && out[len(out)-1].Equal(p) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// WithEndpoints returns a copy of ls whose first and last vertex are replaced.
func WithEndpoints(ls orb.LineString, start, end orb.Point) orb.LineString {
	out := ls.Clone()
	out[0] = start
	out[len(out)-1] = end
	return out
}

// EqualWithin reports whether a and b describe the same line within tol.
// Vertex counts must match; every vertex pair must lie within tol.
func EqualWithin(a, b orb.LineString, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if planar.Distance(a[i], b[i]) > tol {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
