package topology

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"basenet/internal/network/geom"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/pkg/platform/sentinel"
)

type endpointKind int

const (
	keep endpointKind = iota
	reconnect
	relocate
	fresh
	junction
)

// endpoint is the node an end of the changed edge resolves to. fresh and
// junction nodes do not exist yet.
type endpoint struct {
	kind endpointKind
	node *models.Node
	at   orb.Point
	host *models.Edge
	// hostAt is the position of the junction on host.
	hostAt float64
}

type candidateKind int

const (
	// candidateNode is an existing node on the interior of the new geometry.
	candidateNode candidateKind = iota
	// candidateCrossing is a crossing with the interior of another edge.
	candidateCrossing
	// candidateJunction is the moved endpoint landing on another edge.
	candidateJunction
)

type candidate struct {
	kind    candidateKind
	point   orb.Point
	node    *models.Node
	other   *models.Edge
	otherAt float64
}

// plan is a fully resolved change, ready to be written.
type plan struct {
	change   Change
	oldStart *models.Node
	oldEnd   *models.Node
	start    endpoint
	end      endpoint
	cuts     []candidate
	// created marks an edge written earlier in the same transaction.
	created bool
}

type resolution struct {
	endpoint endpoint
	cuts     []candidate
	flag     Outcome
	kind     protocol.Kind
	detail   string
	// at locates a flagged resolution.
	at orb.Point
}

// resolve decides where the moved endpoint of old lands. fixed is the node
// at the other end.
func (x *Executor) resolve(ctx context.Context, sess *ports.Session, ch Change, old *models.Node, p orb.Point,
	fixed *models.Node,
) (resolution, error) {
	if id, ok := sess.Index.FindNearest(p, x.cfg.Tolerance); ok && id != old.ID {
		m, err := sess.Store.FindNode(ctx, id)
		switch {
		case err == nil:
			return resolution{endpoint: endpoint{kind: reconnect, node: m, at: m.Point}}, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			return resolution{}, fmt.Errorf("load node %d: %w", id, err)
		}
	}

	incident, err := sess.Store.EdgesAtNode(ctx, old.ID)
	if err != nil {
		return resolution{}, fmt.Errorf("edges at node %d: %w", old.ID, err)
	}
	deadEnd := len(incident) <= 1

	cands, exceeded, err := x.search(ctx, sess, ch, old, p, fixed, deadEnd)
	if err != nil {
		return resolution{}, err
	}
	switch {
	case exceeded:
		return resolution{
			flag:   OutcomeLoopExceeded,
			kind:   protocol.KindSearchLoopExceeded,
			detail: fmt.Sprintf("more than %d split candidates", x.cfg.LoopBound),
		}, nil
	case len(cands) > 1:
		return resolution{
			flag:   OutcomeAmbiguous,
			kind:   protocol.KindAmbiguousSplit,
			detail: fmt.Sprintf("%d split candidates", len(cands)),
		}, nil
	case len(cands) == 0 && deadEnd:
		return resolution{endpoint: endpoint{kind: relocate, node: old, at: p}}, nil
	case len(cands) == 0:
		return resolution{
			flag:   OutcomeNoEndpointMatch,
			kind:   protocol.KindNoEndpointMatch,
			detail: fmt.Sprintf("node %d is shared by %d edges and no candidate was found", old.ID, len(incident)),
		}, nil
	}

	c := cands[0]
	if c.kind == candidateJunction {
		return resolution{endpoint: endpoint{kind: junction, at: c.point, host: c.other, hostAt: c.otherAt}}, nil
	}
	ep := endpoint{kind: fresh, at: p}
	if deadEnd {
		ep = endpoint{kind: relocate, node: old, at: p}
	}
	return resolution{endpoint: ep, cuts: []candidate{c}}, nil
}

// search collects split candidates in the bound spanned by the old node
// and the new endpoint, padded by the search buffer. It stops as soon as
// more than LoopBound candidates were found.
func (x *Executor) search(ctx context.Context, sess *ports.Session, ch Change, old *models.Node, p orb.Point,
	fixed *models.Node, deadEnd bool,
) ([]candidate, bool, error) {
	tol := x.cfg.Tolerance
	region := geom.BoundOf(old.Point, p).Pad(x.cfg.SearchBuffer)
	line := ch.Geometry
	length := geom.Length(line)

	var (
		out        []candidate
		iterations int
	)
	defer func() { sess.Stats.SearchIterations += iterations }()
	add := func(c candidate) bool {
		out = append(out, c)
		return len(out) > x.cfg.LoopBound
	}

	nodes, err := sess.Store.NodesInBound(ctx, region)
	if err != nil {
		return nil, false, fmt.Errorf("nodes in search region: %w", err)
	}
	for _, n := range nodes {
		if n.ID == fixed.ID || (deadEnd && n.ID == old.ID) {
			continue
		}
		iterations++
		f, d := geom.Locate(line, n.Point)
		if d > tol || !x.interior(length, f) {
			continue
		}
		if add(candidate{kind: candidateNode, point: n.Point, node: n}) {
			return out, true, nil
		}
	}

	edges, err := sess.Store.EdgesInBound(ctx, region)
	if err != nil {
		return nil, false, fmt.Errorf("edges in search region: %w", err)
	}
	for _, o := range edges {
		if o.ID == ch.Edge.ID {
			continue
		}
		iterations++
		olen := o.Length()
		if f, d := geom.Locate(o.Geometry, p); d <= tol && x.interior(olen, f) {
			c := candidate{kind: candidateJunction, point: geom.PointAt(o.Geometry, f), other: o, otherAt: f}
			if add(c) {
				return out, true, nil
			}
		}
		for _, cr := range geom.Intersections(line, o.Geometry, tol) {
			if !region.Contains(cr.Point) || geom.Distance(cr.Point, p) <= tol {
				continue
			}
			if !x.interior(length, cr.FractionA) || !x.interior(olen, cr.FractionB) {
				continue
			}
			if add(candidate{kind: candidateCrossing, point: cr.Point, other: o, otherAt: cr.FractionB}) {
				return out, true, nil
			}
		}
	}
	return out, false, nil
}
