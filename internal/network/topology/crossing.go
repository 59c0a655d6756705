package topology

import (
	"context"
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"basenet/internal/network/geom"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/pkg/domain"
)

// crossingQuery describes a line whose interior is checked against the
// graph. previous is the geometry the line replaces, nil for a new edge.
// known holds cuts already decided by the endpoint search.
type crossingQuery struct {
	self     domain.EdgeID
	line     orb.LineString
	previous orb.LineString
	known    []candidate
}

// crossings finds the new points where the interior of q.line meets the
// graph: crossings with the interior of another edge and nodes lying on the
// line. A crossing the previous geometry already had within the search
// buffer is not new. Candidates closer to each other than the search buffer
// cannot be told apart and flag the change as ambiguous.
func (x *Executor) crossings(ctx context.Context, sess *ports.Session, q crossingQuery) (resolution, error) {
	tol := x.cfg.Tolerance
	line := q.line
	length := geom.Length(line)
	region := line.Bound().Pad(tol)

	var (
		out        []candidate
		iterations int
	)
	defer func() { sess.Stats.SearchIterations += iterations }()
	exceeded := resolution{
		flag:   OutcomeLoopExceeded,
		kind:   protocol.KindSearchLoopExceeded,
		detail: fmt.Sprintf("more than %d crossing candidates", x.cfg.LoopBound),
	}
	seen := func(p orb.Point) bool {
		for _, c := range q.known {
			if geom.Distance(c.point, p) <= tol {
				return true
			}
		}
		for _, c := range out {
			if geom.Distance(c.point, p) <= tol {
				return true
			}
		}
		return false
	}

	nodes, err := sess.Store.NodesInBound(ctx, region)
	if err != nil {
		return resolution{}, fmt.Errorf("nodes along geometry: %w", err)
	}
	for _, n := range nodes {
		iterations++
		f, d := geom.Locate(line, n.Point)
		if d > tol || !x.interior(length, f) || seen(n.Point) {
			continue
		}
		if q.previous != nil && geom.DistanceTo(q.previous, n.Point) <= tol {
			continue
		}
		out = append(out, candidate{kind: candidateNode, point: n.Point, node: n})
		if len(out) > x.cfg.LoopBound {
			exceeded.at = n.Point
			return exceeded, nil
		}
	}

	edges, err := sess.Store.EdgesInBound(ctx, region)
	if err != nil {
		return resolution{}, fmt.Errorf("edges along geometry: %w", err)
	}
	for _, o := range edges {
		if o.ID == q.self {
			continue
		}
		iterations++
		olen := o.Length()
		var before []geom.Crossing
		if q.previous != nil {
			before = geom.Intersections(q.previous, o.Geometry, tol)
		}
		for _, cr := range geom.Intersections(line, o.Geometry, tol) {
			if !x.interior(length, cr.FractionA) || !x.interior(olen, cr.FractionB) || seen(cr.Point) {
				continue
			}
			if x.existed(before, cr.Point) {
				continue
			}
			out = append(out, candidate{kind: candidateCrossing, point: cr.Point, other: o, otherAt: cr.FractionB})
			if len(out) > x.cfg.LoopBound {
				exceeded.at = cr.Point
				return exceeded, nil
			}
		}
	}

	if a, b, ok := x.crowded(line, q.known, out); ok {
		return resolution{
			flag:   OutcomeAmbiguous,
			kind:   protocol.KindAmbiguousSplit,
			detail: fmt.Sprintf("crossing candidates at %v and %v lie within the search buffer", a, b),
			at:     a,
		}, nil
	}
	return resolution{cuts: out}, nil
}

func (x *Executor) existed(before []geom.Crossing, p orb.Point) bool {
	for _, b := range before {
		if geom.Distance(b.Point, p) <= x.cfg.SearchBuffer {
			return true
		}
	}
	return false
}

// crowded reports two neighbouring candidates along line that are closer
// than the search buffer, at least one of them new.
func (x *Executor) crowded(line orb.LineString, known, fresh []candidate) (orb.Point, orb.Point, bool) {
	type placed struct {
		at    float64
		point orb.Point
		fresh bool
	}
	all := make([]placed, 0, len(known)+len(fresh))
	for _, c := range known {
		f, _ := geom.Locate(line, c.point)
		all = append(all, placed{at: f, point: c.point})
	}
	for _, c := range fresh {
		f, _ := geom.Locate(line, c.point)
		all = append(all, placed{at: f, point: c.point, fresh: true})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
	for i := 1; i < len(all); i++ {
		a, b := all[i-1], all[i]
		if !a.fresh && !b.fresh {
			continue
		}
		if geom.Distance(a.point, b.point) <= x.cfg.SearchBuffer {
			return a.point, b.point, true
		}
	}
	return orb.Point{}, orb.Point{}, false
}

// Screen checks the interior of line, the geometry of an edge about to be
// created, without writing. A flagged result is recorded to the protocol
// sink; the caller must then not create the edge.
func (x *Executor) Screen(ctx context.Context, sess *ports.Session, featureID domain.FeatureID, line orb.LineString) (Result, error) {
	res, err := x.crossings(ctx, sess, crossingQuery{line: line})
	if err != nil {
		return Result{}, err
	}
	if res.flag == "" {
		return Result{}, nil
	}
	return x.flag(ctx, sess, Change{FeatureID: featureID, Geometry: line}, res.flag, res.kind, nil,
		res.at, res.detail), nil
}

// Connect splits a freshly created edge wherever its interior crosses
// another edge or passes a node, sharing a new node with each crossed edge.
func (x *Executor) Connect(ctx context.Context, sess *ports.Session, featureID domain.FeatureID, e *models.Edge,
	attrs models.MappedAttributes,
) (Result, error) {
	ch := Change{FeatureID: featureID, Edge: e, Geometry: e.Geometry, Attributes: attrs}
	res, err := x.crossings(ctx, sess, crossingQuery{self: e.ID, line: e.Geometry})
	if err != nil {
		return Result{}, err
	}
	if res.flag != "" {
		return x.flag(ctx, sess, ch, res.flag, res.kind, nil, res.at, res.detail), nil
	}
	if len(res.cuts) == 0 {
		return Result{Outcome: OutcomeReshaped, Edges: []domain.EdgeID{e.ID}}, nil
	}
	start, end, err := x.nodesOf(ctx, sess, e)
	if err != nil {
		return Result{}, err
	}
	return x.execute(ctx, sess, &plan{
		change:  ch,
		start:   endpoint{kind: keep, node: start, at: start.Point},
		end:     endpoint{kind: keep, node: end, at: end.Point},
		cuts:    res.cuts,
		created: true,
	})
}

func (x *Executor) nodesOf(ctx context.Context, sess *ports.Session, e *models.Edge) (*models.Node, *models.Node, error) {
	start, err := sess.Store.FindNode(ctx, e.StartNode)
	if err != nil {
		return nil, nil, fmt.Errorf("load start node of edge %d: %w", e.ID, err)
	}
	end, err := sess.Store.FindNode(ctx, e.EndNode)
	if err != nil {
		return nil, nil, fmt.Errorf("load end node of edge %d: %w", e.ID, err)
	}
	return start, end, nil
}
