package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"

	"basenet/internal/network/geom"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/topology"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
)

// CreationService turns unmatched features into new edges.
type CreationService struct {
	exec   *topology.Executor
	tol    float64
	logger *slog.Logger
}

func NewCreationService(exec *topology.Executor, opts ...Option) *CreationService {
	o := buildOptions(opts)
	return &CreationService{exec: exec, tol: exec.Config().Tolerance, logger: o.logger}
}

type landingKind int

const (
	onNode landingKind = iota
	onEdge
	onNothing
)

// landing is where a new endpoint meets the existing graph.
type landing struct {
	kind landingKind
	node *models.Node
	host *models.Edge
	at   orb.Point
}

// Create persists a new edge for f together with its mapping. Endpoints
// reuse an existing node within ε, split an edge whose interior is within
// ε, or get a new node. Where the interior crosses another edge both are
// split at a shared node; Create then returns nil and the mapping names
// the pieces.
func (c *CreationService) Create(ctx context.Context, sess *ports.Session, f Feature) (*models.Edge, error) {
	if isDegenerate(f) {
		return nil, rejectDegenerate(ctx, sess, c.logger, f, "geometry has no length")
	}

	startAt, endAt := geom.Start(f.Geometry), geom.End(f.Geometry)
	first, err := c.land(ctx, sess, startAt)
	if err != nil {
		return nil, err
	}
	last, err := c.land(ctx, sess, endAt)
	if err != nil {
		return nil, err
	}
	if last.kind == onNothing && first.kind != onNode && geom.Distance(first.at, last.at) <= c.tol {
		last = landing{kind: onNode, at: first.at}
	}
	// Ends within ε of each other share a node once the start is written.
	predictedEnd := last.at
	if geom.Distance(first.at, last.at) <= c.tol {
		predictedEnd = first.at
	}
	predicted := geom.WithEndpoints(f.Geometry, first.at, predictedEnd)
	if geom.IsDegenerate(predicted) {
		return nil, rejectDegenerate(ctx, sess, c.logger, f, "geometry collapses onto one node")
	}
	screened, err := c.exec.Screen(ctx, sess, f.ID, predicted)
	if err != nil {
		return nil, err
	}
	if screened.Anomaly != nil {
		return nil, dErrors.Newf(dErrors.CodeAmbiguousTopology, "feature %s: %s", f.ID, screened.Anomaly.Detail)
	}

	start, err := c.materialize(ctx, sess, first)
	if err != nil {
		return nil, err
	}
	// The start may have split or created what the end lands on.
	last, err = c.land(ctx, sess, endAt)
	if err != nil {
		return nil, err
	}
	end, err := c.materialize(ctx, sess, last)
	if err != nil {
		return nil, err
	}

	line := geom.WithEndpoints(f.Geometry, start.Point, end.Point)
	edge, err := models.NewEdge(line, start.ID, end.ID, models.SourceBaseNetwork, f.Attributes)
	if err != nil {
		// Nodes are already written; this must not pass as a skipped feature.
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "feature %s: edge rejected after its nodes were written: %v", f.ID, err)
	}
	if err := sess.Store.CreateEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("create edge for feature %s: %w", f.ID, err)
	}
	if err := sess.Store.SaveMapping(ctx, &models.FeatureMapping{FeatureID: f.ID, Edges: []domain.EdgeID{edge.ID}}); err != nil {
		return nil, fmt.Errorf("save mapping for feature %s: %w", f.ID, err)
	}
	sess.Stats.EdgesAdded++
	sess.Stats.TouchEdge(edge.ID, edge.Geometry)
	c.logger.DebugContext(ctx, "edge_created", "feature_id", f.ID, "edge_id", edge.ID)

	connected, err := c.exec.Connect(ctx, sess, f.ID, edge, f.Attributes)
	if err != nil {
		return nil, err
	}
	if connected.Outcome == topology.OutcomeSplit {
		return nil, nil
	}
	return edge, nil
}

// land looks p up in the index and, failing that, on nearby edge interiors.
func (c *CreationService) land(ctx context.Context, sess *ports.Session, p orb.Point) (landing, error) {
	if id, ok := sess.Index.FindNearest(p, c.tol); ok {
		n, err := sess.Store.FindNode(ctx, id)
		if err == nil {
			return landing{kind: onNode, node: n, at: n.Point}, nil
		}
	}

	near, err := sess.Store.EdgesInBound(ctx, p.Bound().Pad(c.tol))
	if err != nil {
		return landing{}, fmt.Errorf("edges near %v: %w", p, err)
	}
	var (
		host *models.Edge
		best = math.Inf(1)
		at   orb.Point
	)
	for _, e := range near {
		f, d := geom.Locate(e.Geometry, p)
		length := e.Length()
		if d > c.tol || f*length <= c.tol || (1-f)*length <= c.tol {
			continue
		}
		if d < best {
			host, best, at = e, d, geom.PointAt(e.Geometry, f)
		}
	}
	if host != nil {
		return landing{kind: onEdge, host: host, at: at}, nil
	}
	return landing{kind: onNothing, at: p}, nil
}

func (c *CreationService) materialize(ctx context.Context, sess *ports.Session, l landing) (*models.Node, error) {
	switch l.kind {
	case onNode:
		if l.node != nil {
			return l.node, nil
		}
	case onEdge:
		return c.exec.Junction(ctx, sess, l.host, l.at)
	}
	n := &models.Node{Point: l.at, Source: models.SourceBaseNetwork, Form: models.NodeFormUnknown}
	if err := sess.Store.CreateNode(ctx, n); err != nil {
		return nil, fmt.Errorf("create node: %w", err)
	}
	sess.Index.Insert(n)
	sess.Stats.NodesAdded++
	sess.Stats.TouchNode(n.ID, n.Point)
	return n, nil
}
