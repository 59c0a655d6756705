package topology

import (
	"context"
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"basenet/internal/network/events"
	"basenet/internal/network/geom"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
)

// cut is a split position on an edge and the node placed there.
type cut struct {
	at   float64
	node *models.Node
}

// execute writes a resolved plan. Every check that can flag the change runs
// before the first write.
func (x *Executor) execute(ctx context.Context, sess *ports.Session, p *plan) (Result, error) {
	ch := p.change
	e := ch.Edge.Clone()
	old := e.Geometry
	next := geom.WithEndpoints(ch.Geometry, p.start.at, p.end.at)
	if geom.IsDegenerate(next) {
		return x.flag(ctx, sess, ch, OutcomeDegenerate, protocol.KindDegenerateGeometry, nil,
			p.start.at, "geometry collapses onto its endpoints"), nil
	}
	length := geom.Length(next)
	cuts := make([]candidate, 0, len(p.cuts))
	fracs := make([]float64, 0, len(p.cuts))
	for _, c := range p.cuts {
		f, _ := geom.Locate(next, c.point)
		if !x.interior(length, f) {
			continue
		}
		cuts = append(cuts, c)
		fracs = append(fracs, f)
	}
	order := make([]int, len(cuts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return fracs[order[a]] < fracs[order[b]] })

	hosts := make(map[domain.EdgeID]*hostSplit)
	addHost := func(edge *models.Edge, at float64, node *models.Node) {
		h, ok := hosts[edge.ID]
		if !ok {
			h = &hostSplit{edge: edge}
			hosts[edge.ID] = h
		}
		h.cuts = append(h.cuts, cut{at: at, node: node})
	}

	startNode, err := x.materialize(ctx, sess, &p.start, e.Source, addHost)
	if err != nil {
		return Result{}, err
	}
	endNode, err := x.materialize(ctx, sess, &p.end, e.Source, addHost)
	if err != nil {
		return Result{}, err
	}

	var own []cut
	prev := 0.0
	for _, i := range order {
		c, f := cuts[i], fracs[i]
		if len(own) > 0 && (f-prev)*length <= x.cfg.Tolerance {
			continue
		}
		node := c.node
		if c.kind == candidateCrossing {
			node, err = x.createNode(ctx, sess, c.point, e.Source)
			if err != nil {
				return Result{}, err
			}
			addHost(c.other, c.otherAt, node)
		}
		own = append(own, cut{at: f, node: node})
		prev = f
	}

	ids := make([]domain.EdgeID, 0, len(hosts))
	for id := range hosts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	for _, id := range ids {
		if _, err := x.splitHost(ctx, sess, hosts[id].edge, hosts[id].cuts); err != nil {
			return Result{}, err
		}
	}

	groups, _ := e.Groups.Reproject(projection(old, next))
	next = geom.WithEndpoints(next, startNode.Point, endNode.Point)

	var result Result
	switch {
	case len(own) == 0 && p.created:
		result = Result{Outcome: OutcomeReshaped, Edges: []domain.EdgeID{e.ID}}
	case len(own) == 0:
		e.StartNode, e.EndNode = startNode.ID, endNode.ID
		if err := x.updateInPlace(ctx, sess, e, old, next, ch.Attributes.Apply(groups), ch.Attributes.Scalars); err != nil {
			return Result{}, err
		}
		result = Result{Outcome: OutcomeReconnected, Edges: []domain.EdgeID{e.ID}}
	default:
		positions := make([]float64, len(own))
		nodes := make([]*models.Node, 0, len(own)+2)
		nodes = append(nodes, startNode)
		for i, c := range own {
			positions[i] = c.at
			nodes = append(nodes, c.node)
		}
		nodes = append(nodes, endNode)
		pieces, err := groups.Pieces(positions)
		if err != nil {
			return Result{}, err
		}
		for i := range pieces {
			pieces[i] = ch.Attributes.Apply(pieces[i])
		}
		successors, err := x.replaceEdge(ctx, sess, e, next, pieces, nodes, positions, ch.Attributes.Scalars, !p.created)
		if err != nil {
			return Result{}, err
		}
		if p.created {
			// The edge only existed inside this transaction.
			sess.Stats.EdgesAdded--
			sess.Stats.EdgesDeleted--
			sess.Stats.Splits--
		}
		result = Result{Outcome: OutcomeSplit, Edges: successors}
	}

	for _, n := range []*models.Node{p.oldStart, p.oldEnd} {
		if n == nil || n.ID == startNode.ID || n.ID == endNode.ID {
			continue
		}
		if err := x.removeIfOrphan(ctx, sess, n); err != nil {
			return Result{}, err
		}
	}

	x.logger.InfoContext(ctx, "topology_change_applied",
		"outcome", string(result.Outcome),
		"edge_id", ch.Edge.ID,
		"feature_id", ch.FeatureID,
		"edges", len(result.Edges),
		"cuts", len(own),
	)
	return result, nil
}

type hostSplit struct {
	edge *models.Edge
	cuts []cut
}

// materialize turns a resolved endpoint into a persisted node.
func (x *Executor) materialize(ctx context.Context, sess *ports.Session, ep *endpoint, source models.Source,
	addHost func(*models.Edge, float64, *models.Node),
) (*models.Node, error) {
	switch ep.kind {
	case keep:
		return ep.node, nil
	case reconnect:
		sess.Stats.Reconnects++
		return ep.node, nil
	case relocate:
		moved := ep.node.Clone()
		moved.Point = ep.at
		if err := sess.Store.UpdateNode(ctx, moved); err != nil {
			return nil, fmt.Errorf("relocate node %d: %w", moved.ID, err)
		}
		sess.Index.Move(moved)
		sess.Stats.Relocations++
		sess.Stats.TouchNode(moved.ID, moved.Point)
		sess.Stats.Extend(ep.node.Point.Bound())
		return moved, nil
	case fresh:
		return x.createNode(ctx, sess, ep.at, source)
	case junction:
		n, err := x.createNode(ctx, sess, ep.at, source)
		if err != nil {
			return nil, err
		}
		addHost(ep.host, ep.hostAt, n)
		return n, nil
	}
	return nil, dErrors.Newf(dErrors.CodeInternal, "unknown endpoint kind %d", ep.kind)
}

func (x *Executor) createNode(ctx context.Context, sess *ports.Session, at orb.Point, source models.Source) (*models.Node, error) {
	n := &models.Node{Point: at, Source: source, Form: models.NodeFormUnknown}
	if err := sess.Store.CreateNode(ctx, n); err != nil {
		return nil, fmt.Errorf("create node: %w", err)
	}
	sess.Index.Insert(n)
	sess.Stats.NodesAdded++
	sess.Stats.TouchNode(n.ID, n.Point)
	return n, nil
}

// splitHost cuts another edge at the given positions. Its groups are split
// with it; its geometry is otherwise unchanged.
func (x *Executor) splitHost(ctx context.Context, sess *ports.Session, host *models.Edge, cuts []cut) ([]domain.EdgeID, error) {
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].at < cuts[j].at })
	start, err := sess.Store.FindNode(ctx, host.StartNode)
	if err != nil {
		return nil, fmt.Errorf("load start node of edge %d: %w", host.ID, err)
	}
	end, err := sess.Store.FindNode(ctx, host.EndNode)
	if err != nil {
		return nil, fmt.Errorf("load end node of edge %d: %w", host.ID, err)
	}
	positions := make([]float64, len(cuts))
	nodes := make([]*models.Node, 0, len(cuts)+2)
	nodes = append(nodes, start)
	for i, c := range cuts {
		positions[i] = c.at
		nodes = append(nodes, c.node)
	}
	nodes = append(nodes, end)

	pieces, err := host.Groups.Pieces(positions)
	if err != nil {
		return nil, err
	}
	return x.replaceEdge(ctx, sess, host, host.Geometry, pieces, nodes, positions, host.Attributes, true)
}

// replaceEdge retires old in favour of one successor per piece. nodes holds
// the start node, one node per position and the end node. announce emits
// the edge-replaced event.
func (x *Executor) replaceEdge(ctx context.Context, sess *ports.Session, old *models.Edge, line orb.LineString,
	pieces []models.AttributeGroups, nodes []*models.Node, positions []float64, scalars models.ScalarAttributes,
	announce bool,
) ([]domain.EdgeID, error) {
	bounds := make([]float64, 0, len(positions)+2)
	bounds = append(bounds, 0)
	bounds = append(bounds, positions...)
	bounds = append(bounds, 1)

	mappings, err := sess.Store.MappingsForEdge(ctx, old.ID)
	if err != nil {
		return nil, fmt.Errorf("mappings of edge %d: %w", old.ID, err)
	}

	successors := make([]domain.EdgeID, 0, len(pieces))
	for i, groups := range pieces {
		piece := geom.Slice(line, bounds[i], bounds[i+1])
		if piece == nil {
			return nil, dErrors.Newf(dErrors.CodeDegenerateGeometry, "empty piece %d of edge %d", i, old.ID)
		}
		piece = geom.WithEndpoints(piece, nodes[i].Point, nodes[i+1].Point)
		succ := &models.Edge{
			Geometry:    piece,
			Source:      old.Source,
			StartNode:   nodes[i].ID,
			EndNode:     nodes[i+1].ID,
			BaseNetwork: old.BaseNetwork,
			Version:     1,
			Groups:      groups,
			Attributes:  scalars,
		}
		if err := sess.Store.CreateEdge(ctx, succ); err != nil {
			return nil, fmt.Errorf("create successor %d of edge %d: %w", i, old.ID, err)
		}
		successors = append(successors, succ.ID)
		sess.Stats.EdgesAdded++
		sess.Stats.TouchEdge(succ.ID, succ.Geometry)
	}

	if err := sess.Store.DeleteEdge(ctx, old.ID); err != nil {
		return nil, fmt.Errorf("delete split edge %d: %w", old.ID, err)
	}
	for _, m := range mappings {
		if m.Replace(old.ID, successors) {
			if err := sess.Store.SaveMapping(ctx, m); err != nil {
				return nil, fmt.Errorf("re-point mapping %s: %w", m.FeatureID, err)
			}
		}
	}
	if announce {
		if err := sess.Store.AppendEvent(ctx, events.EdgeReplaced(old.ID, successors, old.Geometry, x.now())); err != nil {
			return nil, fmt.Errorf("append edge-replaced for edge %d: %w", old.ID, err)
		}
	}
	sess.Stats.EdgesDeleted++
	sess.Stats.Splits++
	sess.Stats.Extend(old.Geometry.Bound())
	return successors, nil
}

// removeIfOrphan deletes n when no edge references it any more.
func (x *Executor) removeIfOrphan(ctx context.Context, sess *ports.Session, n *models.Node) error {
	incident, err := sess.Store.EdgesAtNode(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("edges at node %d: %w", n.ID, err)
	}
	if len(incident) > 0 {
		return nil
	}
	if err := sess.Store.DeleteNode(ctx, n.ID); err != nil {
		return fmt.Errorf("delete orphan node %d: %w", n.ID, err)
	}
	if err := sess.Store.AppendEvent(ctx, events.NodeDeleted(n.ID, x.now())); err != nil {
		return fmt.Errorf("append node-deleted for node %d: %w", n.ID, err)
	}
	sess.Index.Remove(n.ID)
	sess.Stats.NodesDeleted++
	sess.Stats.Extend(n.Point.Bound())
	return nil
}
