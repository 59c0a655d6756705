package models

import (
	"fmt"
	"math"

	dErrors "basenet/pkg/domain-errors"
)

// positionEpsilon is the tolerance for comparing linear positions.
const positionEpsilon = 1e-9

// LinearRange is a half-open interval [From, To) of an edge's length,
// expressed as fractions in [0,1]. A range ending at 1 includes 1.
type LinearRange struct {
	From float64
	To   float64
}

// NewLinearRange validates 0 <= from < to <= 1.
func NewLinearRange(from, to float64) (LinearRange, error) {
	r := LinearRange{From: from, To: to}
	if err := r.Validate(); err != nil {
		return LinearRange{}, err
	}
	return r, nil
}

// FullRange covers the whole edge.
func FullRange() LinearRange { return LinearRange{From: 0, To: 1} }

func (r LinearRange) Validate() error {
	if math.IsNaN(r.From) || math.IsNaN(r.To) {
		return dErrors.New(dErrors.CodeValidation, "linear range contains NaN")
	}
	if r.From < 0 || r.To > 1 || r.From >= r.To {
		return dErrors.Newf(dErrors.CodeValidation, "invalid linear range [%g,%g)", r.From, r.To)
	}
	return nil
}

func (r LinearRange) Length() float64 { return r.To - r.From }

// Contains reports whether pos lies in the range.
func (r LinearRange) Contains(pos float64) bool {
	if pos >= r.From && pos < r.To {
		return true
	}
	return r.To == 1 && pos == 1
}

// Intersect returns the overlap of r and o, if any has length.
func (r LinearRange) Intersect(o LinearRange) (LinearRange, bool) {
	from := math.Max(r.From, o.From)
	to := math.Min(r.To, o.To)
	if to-from <= positionEpsilon {
		return LinearRange{}, false
	}
	return LinearRange{From: from, To: to}, true
}

func (r LinearRange) String() string {
	return fmt.Sprintf("[%g,%g)", r.From, r.To)
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= positionEpsilon
}
