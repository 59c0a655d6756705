package reimport

import (
	"math"

	"github.com/paulmach/orb"

	dErrors "basenet/pkg/domain-errors"
)

// Partition is one longitude strip of the extent.
type Partition struct {
	Index int
	Bound orb.Bound
}

// Strips divides extent into n strips of equal width, west to east.
func Strips(extent orb.Bound, n int) ([]Partition, error) {
	if n < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "partition count must be at least 1")
	}
	if !(extent.Max.X() > extent.Min.X()) || !(extent.Max.Y() > extent.Min.Y()) {
		return nil, dErrors.New(dErrors.CodeValidation, "extent must have positive width and height")
	}
	width := (extent.Max.X() - extent.Min.X()) / float64(n)
	out := make([]Partition, n)
	for i := range out {
		minX := extent.Min.X() + float64(i)*width
		maxX := minX + width
		if i == n-1 {
			maxX = extent.Max.X()
		}
		out[i] = Partition{
			Index: i,
			Bound: orb.Bound{Min: orb.Point{minX, extent.Min.Y()}, Max: orb.Point{maxX, extent.Max.Y()}},
		}
	}
	return out, nil
}

// Owner returns the index of the strip owning p: the strip whose half-open
// x range [min,max) contains p, with points outside the extent clamped to
// the first or last strip.
func Owner(parts []Partition, p orb.Point) int {
	if len(parts) == 0 {
		return -1
	}
	minX := parts[0].Bound.Min.X()
	maxX := parts[len(parts)-1].Bound.Max.X()
	width := (maxX - minX) / float64(len(parts))
	i := int(math.Floor((p.X() - minX) / width))
	return max(0, min(i, len(parts)-1))
}
