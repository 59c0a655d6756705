// Package vernetzung repairs the connectivity of the graph in a region.
//
// The sweep re-snaps edge ends whose node no longer sits on the geometry
// endpoint, deletes nodes without incident edges and keeps node forms in
// line with their degree. Pass-through nodes joining two collinear edges
// with identical attributes are reported as merge candidates; nothing is
// merged.
package vernetzung

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/paulmach/orb"

	"basenet/internal/network/events"
	"basenet/internal/network/geom"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/platform/sentinel"
)

// collinearCos is cos(170°): two edges leaving a node in opposite directions
// within 10° count as collinear.
var collinearCos = math.Cos(170 * math.Pi / 180)

// Report summarizes one sweep.
type Report struct {
	Edges           int
	Resnapped       int
	NodesCreated    int
	NodesDeleted    int
	FormsUpdated    int
	MergeCandidates int
}

// Service runs connectivity sweeps.
type Service struct {
	tol    float64
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(tolerance float64, opts ...Option) (*Service, error) {
	if tolerance <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "tolerance must be positive")
	}
	s := &Service{tol: tolerance, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep repairs every edge and node in region.
func (s *Service) Sweep(ctx context.Context, sess *ports.Session, region orb.Bound) (Report, error) {
	var r Report
	edges, err := sess.Store.EdgesInBound(ctx, region)
	if err != nil {
		return r, fmt.Errorf("edges in region: %w", err)
	}

	// Nodes released by a re-snap may lie outside region.
	released := make(map[domain.NodeID]struct{})
	for _, e := range edges {
		r.Edges++
		before := []domain.NodeID{e.StartNode, e.EndNode}
		changed, err := s.resnap(ctx, sess, e, &r)
		if err != nil {
			return r, err
		}
		if !changed {
			continue
		}
		for _, id := range before {
			if !e.Touches(id) {
				released[id] = struct{}{}
			}
		}
	}

	nodes, err := sess.Store.NodesInBound(ctx, region)
	if err != nil {
		return r, fmt.Errorf("nodes in region: %w", err)
	}
	ids := make([]domain.NodeID, 0, len(nodes)+len(released))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	for id := range released {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	for _, id := range ids {
		if err := s.checkNode(ctx, sess, id, &r); err != nil {
			return r, err
		}
	}

	s.logger.InfoContext(ctx, "vernetzung_done",
		"edges", r.Edges,
		"resnapped", r.Resnapped,
		"nodes_created", r.NodesCreated,
		"nodes_deleted", r.NodesDeleted,
		"merge_candidates", r.MergeCandidates,
	)
	return r, nil
}

// resnap points both ends of e at nodes that coincide with its geometry.
func (s *Service) resnap(ctx context.Context, sess *ports.Session, e *models.Edge, r *Report) (bool, error) {
	changed := false
	start, moved, err := s.endNode(ctx, sess, e.StartNode, e.StartPoint(), r)
	if err != nil {
		return false, err
	}
	changed = changed || moved
	end, moved, err := s.endNode(ctx, sess, e.EndNode, e.EndPoint(), r)
	if err != nil {
		return false, err
	}
	changed = changed || moved
	if !changed {
		return false, nil
	}

	old := e.Geometry
	e.StartNode, e.EndNode = start.ID, end.ID
	e.Geometry = geom.WithEndpoints(e.Geometry, start.Point, end.Point)
	e.Version++
	if err := sess.Store.UpdateEdge(ctx, e); err != nil {
		return false, fmt.Errorf("re-snap edge %d: %w", e.ID, err)
	}
	if err := sess.Store.AppendEvent(ctx, events.TopologyChanged(e.ID, old, e.Geometry, e.Version, s.now())); err != nil {
		return false, fmt.Errorf("append topology-changed for edge %d: %w", e.ID, err)
	}
	r.Resnapped++
	sess.Stats.EdgesUpdated++
	sess.Stats.TouchEdge(e.ID, e.Geometry)
	sess.Stats.Extend(old.Bound())
	s.logger.DebugContext(ctx, "edge_resnapped", "edge_id", e.ID)
	return true, nil
}

// endNode returns the node an edge end at p should reference.
func (s *Service) endNode(ctx context.Context, sess *ports.Session, ref domain.NodeID, p orb.Point, r *Report) (*models.Node, bool, error) {
	n, err := sess.Store.FindNode(ctx, ref)
	switch {
	case err == nil:
		if geom.Distance(n.Point, p) <= s.tol {
			return n, false, nil
		}
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, false, fmt.Errorf("load node %d: %w", ref, err)
	}

	if id, ok := sess.Index.FindNearest(p, s.tol); ok && id != ref {
		m, err := sess.Store.FindNode(ctx, id)
		if err == nil {
			return m, true, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, false, fmt.Errorf("load node %d: %w", id, err)
		}
	}

	created := &models.Node{Point: p, Source: models.SourceBaseNetwork, Form: models.NodeFormUnknown}
	if err := sess.Store.CreateNode(ctx, created); err != nil {
		return nil, false, fmt.Errorf("create node: %w", err)
	}
	sess.Index.Insert(created)
	sess.Stats.NodesAdded++
	sess.Stats.TouchNode(created.ID, created.Point)
	r.NodesCreated++
	return created, true, nil
}

// checkNode deletes an orphan, updates the form of a connected node and
// reports merge candidates.
func (s *Service) checkNode(ctx context.Context, sess *ports.Session, id domain.NodeID, r *Report) error {
	n, err := sess.Store.FindNode(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load node %d: %w", id, err)
	}
	incident, err := sess.Store.EdgesAtNode(ctx, id)
	if err != nil {
		return fmt.Errorf("edges at node %d: %w", id, err)
	}

	if len(incident) == 0 {
		if err := sess.Store.DeleteNode(ctx, id); err != nil {
			return fmt.Errorf("delete orphan node %d: %w", id, err)
		}
		if err := sess.Store.AppendEvent(ctx, events.NodeDeleted(id, s.now())); err != nil {
			return fmt.Errorf("append node-deleted for node %d: %w", id, err)
		}
		sess.Index.Remove(id)
		sess.Stats.NodesDeleted++
		r.NodesDeleted++
		return nil
	}

	form := models.FormForDegree(degree(n.ID, incident))
	if n.Form != form {
		n.Form = form
		if err := sess.Store.UpdateNode(ctx, n); err != nil {
			return fmt.Errorf("update form of node %d: %w", id, err)
		}
		r.FormsUpdated++
	}

	if len(incident) == 2 && mergeable(n, incident[0], incident[1]) {
		a := protocol.New(protocol.KindMergeCandidate, n.Point,
			fmt.Sprintf("edges %d and %d could be merged", incident[0].ID, incident[1].ID))
		a.NodeID = n.ID
		a.EdgeID = incident[0].ID
		sess.Record(ctx, a)
		r.MergeCandidates++
	}
	return nil
}

// degree counts edge ends at node; a loop contributes two.
func degree(node domain.NodeID, incident []*models.Edge) int {
	d := 0
	for _, e := range incident {
		if e.StartNode == node {
			d++
		}
		if e.EndNode == node {
			d++
		}
	}
	return d
}

// mergeable reports whether a and b meet collinearly at n and carry the
// same attributes.
func mergeable(n *models.Node, a, b *models.Edge) bool {
	if a.ID == b.ID || a.StartNode == a.EndNode || b.StartNode == b.EndNode {
		return false
	}
	if a.BaseNetwork != b.BaseNetwork || a.Attributes != b.Attributes || !a.Groups.Equal(b.Groups) {
		return false
	}
	da, ok := leaving(n, a)
	if !ok {
		return false
	}
	db, ok := leaving(n, b)
	if !ok {
		return false
	}
	cos := (da[0]*db[0] + da[1]*db[1]) / (math.Hypot(da[0], da[1]) * math.Hypot(db[0], db[1]))
	return cos <= collinearCos
}

// leaving returns the direction in which e leaves n.
func leaving(n *models.Node, e *models.Edge) (orb.Point, bool) {
	ls := e.Geometry
	if len(ls) < 2 {
		return orb.Point{}, false
	}
	var from, to orb.Point
	if e.StartNode == n.ID {
		from, to = ls[0], ls[1]
	} else {
		from, to = ls[len(ls)-1], ls[len(ls)-2]
	}
	d := orb.Point{to[0] - from[0], to[1] - from[1]}
	return d, d[0] != 0 || d[1] != 0
}
