package models

import (
	"math"
	"sort"

	dErrors "basenet/pkg/domain-errors"
)

// Value is the value type of one attribute dimension.
type Value interface{ ~string }

// Segment assigns a value to a linear range of an edge.
type Segment[V Value] struct {
	Range LinearRange
	Value V
}

// Group is the linearly referenced attribute group of one dimension. Its
// segments are ordered, contiguous, non-overlapping and cover exactly [0,1].
// Groups are values: every operation returns a new group.
type Group[V Value] struct {
	Segments []Segment[V]
}

// Similarity scores how alike two values are; higher is more similar.
type Similarity[V Value] func(a, b V) float64

// Equality scores 1 for equal values and 0 otherwise.
func Equality[V Value](a, b V) float64 {
	if a == b {
		return 1
	}
	return 0
}

// FullLength builds a single-segment group.
func FullLength[V Value](v V) Group[V] {
	return Group[V]{Segments: []Segment[V]{{Range: FullRange(), Value: v}}}
}

// NewGroup builds a group from segments and validates it.
func NewGroup[V Value](segs ...Segment[V]) (Group[V], error) {
	g := Group[V]{Segments: append([]Segment[V](nil), segs...)}
	if err := g.Validate(); err != nil {
		return Group[V]{}, err
	}
	return g, nil
}

// Validate checks the coverage invariant.
func (g Group[V]) Validate() error {
	if len(g.Segments) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "attribute group has no segments")
	}
	if g.Segments[0].Range.From != 0 {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "attribute group starts at %g", g.Segments[0].Range.From)
	}
	if last := g.Segments[len(g.Segments)-1].Range.To; last != 1 {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "attribute group ends at %g", last)
	}
	for i, s := range g.Segments {
		if err := s.Range.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "attribute segment")
		}
		if i > 0 && s.Range.From != g.Segments[i-1].Range.To {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"attribute segments not contiguous at %g/%g", g.Segments[i-1].Range.To, s.Range.From)
		}
	}
	return nil
}

// ValueAt returns the value at linear position pos.
func (g Group[V]) ValueAt(pos float64) V {
	for _, s := range g.Segments {
		if s.Range.Contains(pos) {
			return s.Value
		}
	}
	var zero V
	if n := len(g.Segments); n > 0 && pos >= 1 {
		return g.Segments[n-1].Value
	}
	return zero
}

func (g Group[V]) Clone() Group[V] {
	return Group[V]{Segments: append([]Segment[V](nil), g.Segments...)}
}

// Equal compares segment by segment within the position tolerance.
func (g Group[V]) Equal(o Group[V]) bool {
	if len(g.Segments) != len(o.Segments) {
		return false
	}
	for i := range g.Segments {
		a, b := g.Segments[i], o.Segments[i]
		if a.Value != b.Value || !nearlyEqual(a.Range.From, b.Range.From) || !nearlyEqual(a.Range.To, b.Range.To) {
			return false
		}
	}
	return true
}

// Sub returns the part of g inside r, renormalized so r maps onto [0,1].
func (g Group[V]) Sub(r LinearRange) Group[V] {
	span := r.Length()
	out := make([]Segment[V], 0, len(g.Segments))
	for _, s := range g.Segments {
		ov, ok := s.Range.Intersect(r)
		if !ok {
			continue
		}
		out = append(out, Segment[V]{
			Range: LinearRange{From: (ov.From - r.From) / span, To: (ov.To - r.From) / span},
			Value: s.Value,
		})
	}
	if len(out) == 0 {
		return FullLength(g.ValueAt(r.From))
	}
	return normalize(out)
}

// Split cuts g at position at and returns both halves renormalized.
func (g Group[V]) Split(at float64) (Group[V], Group[V], error) {
	if !(at > 0 && at < 1) {
		return Group[V]{}, Group[V]{}, dErrors.Newf(dErrors.CodeValidation, "split position %g outside (0,1)", at)
	}
	return g.Sub(LinearRange{From: 0, To: at}), g.Sub(LinearRange{From: at, To: 1}), nil
}

// Pieces cuts g at every position in cuts (ascending, inside (0,1)) and
// returns len(cuts)+1 renormalized groups.
func (g Group[V]) Pieces(cuts []float64) ([]Group[V], error) {
	out := make([]Group[V], 0, len(cuts)+1)
	prev := 0.0
	for _, c := range append(append([]float64(nil), cuts...), 1) {
		if c <= prev || c > 1 {
			return nil, dErrors.Newf(dErrors.CodeValidation, "cut positions not ascending at %g", c)
		}
		out = append(out, g.Sub(LinearRange{From: prev, To: c}))
		prev = c
	}
	return out, nil
}

// Reproject maps every interior boundary through fn. It reports false and
// returns an unchanged copy when fn would reorder boundaries.
func (g Group[V]) Reproject(fn func(pos float64) float64) (Group[V], bool) {
	if len(g.Segments) <= 1 {
		return g.Clone(), true
	}
	out := make([]Segment[V], len(g.Segments))
	prev := 0.0
	for i, s := range g.Segments {
		to := 1.0
		if i < len(g.Segments)-1 {
			to = fn(s.Range.To)
			if math.IsNaN(to) {
				return g.Clone(), false
			}
			to = math.Min(math.Max(to, 0), 1)
			if to < prev-positionEpsilon {
				return g.Clone(), false
			}
		}
		out[i] = Segment[V]{Range: LinearRange{From: prev, To: to}, Value: s.Value}
		prev = math.Max(prev, to)
	}
	return normalize(out), true
}

// Defragment merges equal neighbours, then folds every segment shorter than
// minLength (as a fraction) into its most similar neighbour, shortest first.
// Ties go to the longer neighbour, then to the left one. Segments at least
// minLength long keep their values.
func (g Group[V]) Defragment(minLength float64, sim Similarity[V]) (Group[V], bool) {
	if sim == nil {
		sim = Equality[V]
	}
	segs := mergeEqual(g.Clone().Segments)
	for minLength > 0 && len(segs) > 1 {
		i := shortestBelow(segs, minLength)
		if i < 0 {
			break
		}
		target := pickNeighbour(segs, i, sim)
		if target < i {
			segs[target].Range.To = segs[i].Range.To
		} else {
			segs[target].Range.From = segs[i].Range.From
		}
		segs = append(segs[:i], segs[i+1:]...)
		segs = mergeEqual(segs)
	}
	out := Group[V]{Segments: segs}
	return out, !out.Equal(g)
}

func shortestBelow[V Value](segs []Segment[V], minLength float64) int {
	best := -1
	for i, s := range segs {
		l := s.Range.Length()
		if l >= minLength-positionEpsilon {
			continue
		}
		if best < 0 || l < segs[best].Range.Length() {
			best = i
		}
	}
	return best
}

func pickNeighbour[V Value](segs []Segment[V], i int, sim Similarity[V]) int {
	if i == 0 {
		return 1
	}
	if i == len(segs)-1 {
		return i - 1
	}
	left, right := segs[i-1], segs[i+1]
	sl, sr := sim(segs[i].Value, left.Value), sim(segs[i].Value, right.Value)
	switch {
	case sl > sr:
		return i - 1
	case sr > sl:
		return i + 1
	case right.Range.Length() > left.Range.Length():
		return i + 1
	default:
		return i - 1
	}
}

func mergeEqual[V Value](segs []Segment[V]) []Segment[V] {
	if len(segs) == 0 {
		return segs
	}
	out := segs[:1]
	for _, s := range segs[1:] {
		last := &out[len(out)-1]
		if last.Value == s.Value {
			last.Range.To = s.Range.To
			continue
		}
		out = append(out, s)
	}
	return out
}

// Heal repairs a group that violates the coverage invariant: segments are
// ordered, clamped, overlaps trimmed and gaps closed by extending the earlier
// segment. An empty group becomes fallback over the full length.
func (g Group[V]) Heal(fallback V) Group[V] {
	segs := make([]Segment[V], 0, len(g.Segments))
	for _, s := range g.Segments {
		if math.IsNaN(s.Range.From) || math.IsNaN(s.Range.To) {
			continue
		}
		s.Range.From = math.Max(s.Range.From, 0)
		s.Range.To = math.Min(s.Range.To, 1)
		if s.Range.To-s.Range.From > positionEpsilon {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return FullLength(fallback)
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Range.From < segs[j].Range.From })

	out := segs[:1]
	for _, s := range segs[1:] {
		last := &out[len(out)-1]
		if s.Range.From < last.Range.To {
			s.Range.From = last.Range.To
			if s.Range.To-s.Range.From <= positionEpsilon {
				continue
			}
		}
		if s.Range.From > last.Range.To {
			last.Range.To = s.Range.From
		}
		out = append(out, s)
	}
	return normalize(out)
}

// normalize drops collapsed segments and pins boundaries so the result is
// exactly contiguous over [0,1].
func normalize[V Value](segs []Segment[V]) Group[V] {
	kept := make([]Segment[V], 0, len(segs))
	for _, s := range segs {
		if s.Range.To-s.Range.From > positionEpsilon {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return FullLength(segs[0].Value)
	}
	kept[0].Range.From = 0
	for i := 1; i < len(kept); i++ {
		kept[i].Range.From = kept[i-1].Range.To
	}
	kept[len(kept)-1].Range.To = 1
	return Group[V]{Segments: kept}
}
