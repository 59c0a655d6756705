package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"basenet/internal/network/geom"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/internal/network/topology"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/platform/sentinel"
)

// UpdateService applies a matched feature to the edges it maps to.
type UpdateService struct {
	exec   *topology.Executor
	cfg    topology.Config
	logger *slog.Logger
}

func NewUpdateService(exec *topology.Executor, opts ...Option) *UpdateService {
	o := buildOptions(opts)
	return &UpdateService{exec: exec, cfg: exec.Config(), logger: o.logger}
}

// UpdateResult reports what Update did.
type UpdateResult struct {
	// Edges represent the feature afterwards.
	Edges []domain.EdgeID
	// Changed is set when anything was written.
	Changed bool
	// Outcomes of geometry changes, one per edge handed to the executor.
	Outcomes []topology.Outcome
	Flagged  bool
}

func (r *UpdateResult) absorb(res topology.Result) {
	r.Edges = append(r.Edges, res.Edges...)
	r.Outcomes = append(r.Outcomes, res.Outcome)
	if res.Outcome.Flagged() {
		r.Flagged = true
	} else {
		r.Changed = true
	}
}

// Update refreshes attributes and geometry of the edges mapped to f. When
// none of the mapped edges exists any more the mapping is dropped and a
// CodeNotFound error returned so the caller creates the feature anew.
func (u *UpdateService) Update(ctx context.Context, sess *ports.Session, f Feature, mapping *models.FeatureMapping) (UpdateResult, error) {
	if isDegenerate(f) {
		return UpdateResult{}, rejectDegenerate(ctx, sess, u.logger, f, "geometry has no length")
	}
	edges, err := u.load(ctx, sess, mapping)
	if err != nil {
		return UpdateResult{}, err
	}
	if len(edges) == 1 {
		return u.updateSingle(ctx, sess, f, edges[0])
	}
	return u.updateMulti(ctx, sess, f, edges)
}

// load fetches the mapped edges, pruning ids that no longer exist.
func (u *UpdateService) load(ctx context.Context, sess *ports.Session, mapping *models.FeatureMapping) ([]*models.Edge, error) {
	var (
		edges []*models.Edge
		stale []domain.EdgeID
	)
	for _, id := range mapping.Edges {
		e, err := sess.Store.FindEdge(ctx, id)
		switch {
		case err == nil:
			edges = append(edges, e)
		case errors.Is(err, sentinel.ErrNotFound):
			stale = append(stale, id)
		default:
			return nil, fmt.Errorf("load edge %d of feature %s: %w", id, mapping.FeatureID, err)
		}
	}
	if len(stale) == 0 {
		return edges, nil
	}

	pruned := mapping.Clone()
	for _, id := range stale {
		pruned.Remove(id)
	}
	if len(pruned.Edges) == 0 {
		if err := sess.Store.DeleteMapping(ctx, mapping.FeatureID); err != nil {
			return nil, fmt.Errorf("drop stale mapping %s: %w", mapping.FeatureID, err)
		}
		return nil, dErrors.Newf(dErrors.CodeNotFound, "feature %s maps to no existing edge", mapping.FeatureID)
	}
	if err := sess.Store.SaveMapping(ctx, pruned); err != nil {
		return nil, fmt.Errorf("prune mapping %s: %w", mapping.FeatureID, err)
	}
	u.logger.InfoContext(ctx, "mapping_pruned", "feature_id", mapping.FeatureID, "stale", len(stale))
	return edges, nil
}

func (u *UpdateService) updateSingle(ctx context.Context, sess *ports.Session, f Feature, e *models.Edge) (UpdateResult, error) {
	if geom.EqualWithin(e.Geometry, f.Geometry, u.cfg.Tolerance) {
		changed, err := u.refresh(ctx, sess, f, e)
		return UpdateResult{Edges: []domain.EdgeID{e.ID}, Changed: changed}, err
	}
	res, err := u.exec.Apply(ctx, sess, topology.Change{FeatureID: f.ID, Edge: e, Geometry: f.Geometry, Attributes: f.Attributes})
	if err != nil {
		return UpdateResult{}, err
	}
	var out UpdateResult
	out.absorb(res)
	return out, nil
}

// refresh rebuilds the provided attribute dimensions and restores the base
// network flag. It writes only when something differs.
func (u *UpdateService) refresh(ctx context.Context, sess *ports.Session, f Feature, e *models.Edge) (bool, error) {
	groups := f.Attributes.Apply(e.Groups)
	if groups.Equal(e.Groups) && e.Attributes == f.Attributes.Scalars && e.BaseNetwork {
		return false, nil
	}
	next := e.Clone()
	next.Groups = groups
	next.Attributes = f.Attributes.Scalars
	next.BaseNetwork = true
	if err := sess.Store.UpdateEdge(ctx, next); err != nil {
		return false, fmt.Errorf("refresh attributes of edge %d: %w", e.ID, err)
	}
	sess.Stats.EdgesUpdated++
	sess.Stats.TouchEdge(next.ID, next.Geometry)
	return true, nil
}

// updateMulti handles a feature that an earlier split spread over several
// edges. An unchanged geometry only refreshes attributes; a changed one is
// distributed over the edges at their shared nodes.
func (u *UpdateService) updateMulti(ctx context.Context, sess *ports.Session, f Feature, edges []*models.Edge) (UpdateResult, error) {
	lines := make([]orb.LineString, len(edges))
	for i, e := range edges {
		lines[i] = e.Geometry
	}
	if geom.EqualWithin(geom.Concat(lines...), f.Geometry, u.cfg.Tolerance) {
		out := UpdateResult{}
		for _, e := range edges {
			changed, err := u.refresh(ctx, sess, f, e)
			if err != nil {
				return UpdateResult{}, err
			}
			out.Edges = append(out.Edges, e.ID)
			out.Changed = out.Changed || changed
		}
		return out, nil
	}

	pieces, failure, err := u.distribute(ctx, sess, f, edges)
	if err != nil {
		return UpdateResult{}, err
	}
	if failure != "" {
		return u.distributionFailed(ctx, sess, f, edges, failure), nil
	}

	var out UpdateResult
	for i, e := range edges {
		current, err := sess.Store.FindEdge(ctx, e.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			u.flagLost(ctx, sess, f, e)
			out.Flagged = true
			continue
		}
		if err != nil {
			return UpdateResult{}, fmt.Errorf("reload edge %d: %w", e.ID, err)
		}
		if geom.EqualWithin(current.Geometry, pieces[i], u.cfg.Tolerance) {
			changed, err := u.refresh(ctx, sess, f, current)
			if err != nil {
				return UpdateResult{}, err
			}
			out.Edges = append(out.Edges, current.ID)
			out.Changed = out.Changed || changed
			continue
		}
		res, err := u.exec.Apply(ctx, sess, topology.Change{FeatureID: f.ID, Edge: current, Geometry: pieces[i], Attributes: f.Attributes})
		if err != nil {
			return UpdateResult{}, err
		}
		out.absorb(res)
	}
	return out, nil
}

// distribute cuts the new geometry at the positions of the nodes shared by
// consecutive edges. The positions must increase and every node must lie
// within the search buffer of the new geometry.
func (u *UpdateService) distribute(ctx context.Context, sess *ports.Session, f Feature, edges []*models.Edge) ([]orb.LineString, string, error) {
	length := geom.Length(f.Geometry)
	positions := make([]float64, 0, len(edges)-1)
	joints := make([]orb.Point, 0, len(edges)-1)
	prev := 0.0
	for i := 0; i+1 < len(edges); i++ {
		id, ok := sharedNode(edges[i], edges[i+1])
		if !ok {
			return nil, fmt.Sprintf("edges %d and %d share no node", edges[i].ID, edges[i+1].ID), nil
		}
		n, err := sess.Store.FindNode(ctx, id)
		if err != nil {
			return nil, "", fmt.Errorf("load shared node %d: %w", id, err)
		}
		pos, d := geom.Locate(f.Geometry, n.Point)
		if d > u.cfg.SearchBuffer {
			return nil, fmt.Sprintf("node %d is %.3f off the new geometry", id, d), nil
		}
		if (pos-prev)*length <= u.cfg.Tolerance || (1-pos)*length <= u.cfg.Tolerance {
			return nil, fmt.Sprintf("node %d does not follow the previous joint", id), nil
		}
		positions = append(positions, pos)
		joints = append(joints, n.Point)
		prev = pos
	}

	pieces := make([]orb.LineString, len(edges))
	from := 0.0
	for i := range edges {
		to := 1.0
		if i < len(positions) {
			to = positions[i]
		}
		piece := geom.Slice(f.Geometry, from, to)
		start, end := geom.Start(piece), geom.End(piece)
		if i > 0 {
			start = joints[i-1]
		}
		if i < len(joints) {
			end = joints[i]
		}
		pieces[i] = geom.WithEndpoints(piece, start, end)
		from = to
	}
	return pieces, "", nil
}

func sharedNode(a, b *models.Edge) (domain.NodeID, bool) {
	switch {
	case a.EndNode == b.StartNode:
		return a.EndNode, true
	case a.EndNode == b.EndNode:
		return a.EndNode, true
	case a.StartNode == b.StartNode, a.StartNode == b.EndNode:
		return a.StartNode, true
	}
	return 0, false
}

func (u *UpdateService) distributionFailed(ctx context.Context, sess *ports.Session, f Feature, edges []*models.Edge, detail string) UpdateResult {
	a := protocol.New(protocol.KindDistributionFailed, geom.Start(f.Geometry), detail)
	a.FeatureID = f.ID
	a.EdgeID = edges[0].ID
	sess.Record(ctx, a)
	sess.Stats.Ambiguous++
	u.logger.WarnContext(ctx, "successor_distribution_failed", "feature_id", f.ID, "edges", len(edges), "detail", detail)

	ids := make([]domain.EdgeID, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return UpdateResult{Edges: ids, Flagged: true}
}

// flagLost records that an earlier piece of the same feature consumed e.
func (u *UpdateService) flagLost(ctx context.Context, sess *ports.Session, f Feature, e *models.Edge) {
	a := protocol.New(protocol.KindDistributionFailed, e.StartPoint(), fmt.Sprintf("edge %d was replaced while distributing", e.ID))
	a.FeatureID = f.ID
	a.EdgeID = e.ID
	sess.Record(ctx, a)
}
