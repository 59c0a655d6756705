// Package topology applies geometry changes of matched features to the
// graph.
//
// A change whose endpoints stay within ε of their nodes and whose interior
// meets the graph nowhere new is a re-shape: the geometry is replaced and
// attribute groups are re-projected. Otherwise every moved endpoint is
// resolved against the graph around it (reconnect, relocation, junction or a
// split at exactly one candidate) and the edge is split at each new interior
// crossing. When a resolution is not unique the change is flagged to the
// protocol sink and the graph is left as it was.
package topology

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"basenet/internal/network/events"
	"basenet/internal/network/geom"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
)

// Outcome classifies what Apply did.
type Outcome string

const (
	OutcomeReshaped        Outcome = "reshaped"
	OutcomeReconnected     Outcome = "reconnected"
	OutcomeSplit           Outcome = "split"
	OutcomeAmbiguous       Outcome = "ambiguous"
	OutcomeLoopExceeded    Outcome = "loop-exceeded"
	OutcomeNoEndpointMatch Outcome = "no-endpoint-match"
	OutcomeDegenerate      Outcome = "degenerate"
)

// Flagged reports whether the change was recorded and not applied.
func (o Outcome) Flagged() bool {
	switch o {
	case OutcomeAmbiguous, OutcomeLoopExceeded, OutcomeNoEndpointMatch, OutcomeDegenerate:
		return true
	}
	return false
}

// Change is a new geometry for one persisted edge.
type Change struct {
	FeatureID  domain.FeatureID
	Edge       *models.Edge
	Geometry   orb.LineString
	Attributes models.MappedAttributes
}

// Result reports the outcome and the edges that represent the change
// afterwards, in geometry order.
type Result struct {
	Outcome Outcome
	Edges   []domain.EdgeID
	Anomaly *protocol.Anomaly
}

// Executor applies topology changes inside a partition transaction.
type Executor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(x *Executor) {
		x.logger = logger
	}
}

// WithClock sets the time source of emitted events.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) {
		x.now = now
	}
}

// New validates cfg and returns an Executor.
func New(cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	x := &Executor{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

func (x *Executor) Config() Config { return x.cfg }

// Apply replaces the geometry of ch.Edge by ch.Geometry. Flagged outcomes
// return a nil error and leave the graph untouched; errors are store
// failures and must fail the partition.
func (x *Executor) Apply(ctx context.Context, sess *ports.Session, ch Change) (Result, error) {
	if geom.IsDegenerate(ch.Geometry) {
		return x.flag(ctx, sess, ch, OutcomeDegenerate, protocol.KindDegenerateGeometry, nil,
			ch.Edge.StartPoint(), "new geometry has no length"), nil
	}
	start, err := sess.Store.FindNode(ctx, ch.Edge.StartNode)
	if err != nil {
		return Result{}, fmt.Errorf("load start node of edge %d: %w", ch.Edge.ID, err)
	}
	end, err := sess.Store.FindNode(ctx, ch.Edge.EndNode)
	if err != nil {
		return Result{}, fmt.Errorf("load end node of edge %d: %w", ch.Edge.ID, err)
	}

	tol := x.cfg.Tolerance
	startMoved := geom.Distance(geom.Start(ch.Geometry), start.Point) > tol
	endMoved := geom.Distance(geom.End(ch.Geometry), end.Point) > tol

	p := &plan{
		change:   ch,
		oldStart: start,
		oldEnd:   end,
		start:    endpoint{kind: keep, node: start, at: start.Point},
		end:      endpoint{kind: keep, node: end, at: end.Point},
	}
	if !startMoved && !endMoved {
		res, err := x.crossings(ctx, sess, crossingQuery{self: ch.Edge.ID, line: ch.Geometry, previous: ch.Edge.Geometry})
		if err != nil {
			return Result{}, err
		}
		if res.flag != "" {
			return x.flag(ctx, sess, ch, res.flag, res.kind, nil, res.at, res.detail), nil
		}
		if len(res.cuts) == 0 {
			return x.reshape(ctx, sess, ch, start, end)
		}
		p.cuts = res.cuts
		return x.execute(ctx, sess, p)
	}
	sides := []struct {
		moved bool
		ep    *endpoint
		at    orb.Point
		fixed *models.Node
	}{
		{startMoved, &p.start, geom.Start(ch.Geometry), end},
		{endMoved, &p.end, geom.End(ch.Geometry), start},
	}
	for _, side := range sides {
		if !side.moved {
			continue
		}
		res, err := x.resolve(ctx, sess, ch, side.ep.node, side.at, side.fixed)
		if err != nil {
			return Result{}, err
		}
		if res.flag != "" {
			return x.flag(ctx, sess, ch, res.flag, res.kind, side.ep.node, side.at, res.detail), nil
		}
		*side.ep = res.endpoint
		p.cuts = append(p.cuts, res.cuts...)
	}

	res, err := x.crossings(ctx, sess, crossingQuery{
		self:     ch.Edge.ID,
		line:     ch.Geometry,
		previous: ch.Edge.Geometry,
		known:    p.cuts,
	})
	if err != nil {
		return Result{}, err
	}
	if res.flag != "" {
		return x.flag(ctx, sess, ch, res.flag, res.kind, nil, res.at, res.detail), nil
	}
	p.cuts = append(p.cuts, res.cuts...)
	return x.execute(ctx, sess, p)
}

// reshape replaces the geometry in place, keeping both nodes.
func (x *Executor) reshape(ctx context.Context, sess *ports.Session, ch Change, start, end *models.Node) (Result, error) {
	e := ch.Edge.Clone()
	old := e.Geometry
	next := geom.WithEndpoints(ch.Geometry, start.Point, end.Point)
	if geom.IsDegenerate(next) {
		return x.flag(ctx, sess, ch, OutcomeDegenerate, protocol.KindDegenerateGeometry, nil,
			start.Point, "geometry collapses onto its nodes"), nil
	}
	groups, _ := e.Groups.Reproject(projection(old, next))
	if err := x.updateInPlace(ctx, sess, e, old, next, ch.Attributes.Apply(groups), ch.Attributes.Scalars); err != nil {
		return Result{}, err
	}
	x.logger.DebugContext(ctx, "edge_reshaped", "edge_id", e.ID, "feature_id", ch.FeatureID)
	return Result{Outcome: OutcomeReshaped, Edges: []domain.EdgeID{e.ID}}, nil
}

func (x *Executor) updateInPlace(ctx context.Context, sess *ports.Session, e *models.Edge, old, next orb.LineString,
	groups models.AttributeGroups, scalars models.ScalarAttributes,
) error {
	e.Geometry = next
	e.Groups = groups
	e.Attributes = scalars
	e.Version++
	if err := sess.Store.UpdateEdge(ctx, e); err != nil {
		return fmt.Errorf("update edge %d: %w", e.ID, err)
	}
	if err := sess.Store.AppendEvent(ctx, events.TopologyChanged(e.ID, old, next, e.Version, x.now())); err != nil {
		return fmt.Errorf("append topology-changed for edge %d: %w", e.ID, err)
	}
	sess.Stats.EdgesUpdated++
	sess.Stats.TouchEdge(e.ID, next)
	sess.Stats.Extend(old.Bound())
	return nil
}

// projection maps a position on from to the position of the same point on to.
func projection(from, to orb.LineString) func(float64) float64 {
	return func(f float64) float64 {
		if f <= 0 {
			return 0
		}
		if f >= 1 {
			return 1
		}
		pos, _ := geom.Locate(to, geom.PointAt(from, f))
		return pos
	}
}

func (x *Executor) flag(ctx context.Context, sess *ports.Session, ch Change, outcome Outcome, kind protocol.Kind,
	node *models.Node, at orb.Point, detail string,
) Result {
	a := protocol.New(kind, at, detail)
	a.FeatureID = ch.FeatureID
	var edges []domain.EdgeID
	if ch.Edge != nil {
		a.EdgeID = ch.Edge.ID
		edges = []domain.EdgeID{ch.Edge.ID}
	}
	if node != nil {
		a.NodeID = node.ID
	}
	sess.Record(ctx, a)

	switch outcome {
	case OutcomeNoEndpointMatch:
		sess.Stats.NoEndpointMatch++
	case OutcomeAmbiguous, OutcomeLoopExceeded:
		sess.Stats.Ambiguous++
	case OutcomeDegenerate:
		sess.Stats.FeaturesDegenerate++
	}
	x.logger.WarnContext(ctx, "topology_change_flagged",
		"outcome", string(outcome),
		"edge_id", a.EdgeID,
		"feature_id", ch.FeatureID,
		"detail", detail,
	)
	return Result{Outcome: outcome, Edges: edges, Anomaly: &a}
}

// Junction splits host at the point closest to p and returns the new node
// joining both halves. p must lie on the interior of host.
func (x *Executor) Junction(ctx context.Context, sess *ports.Session, host *models.Edge, p orb.Point) (*models.Node, error) {
	f, _ := geom.Locate(host.Geometry, p)
	if !x.interior(host.Length(), f) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "junction at %.6f is not interior to edge %d", f, host.ID)
	}
	n, err := x.createNode(ctx, sess, geom.PointAt(host.Geometry, f), host.Source)
	if err != nil {
		return nil, err
	}
	if _, err := x.splitHost(ctx, sess, host, []cut{{at: f, node: n}}); err != nil {
		return nil, err
	}
	return n, nil
}

// interior reports whether fraction f of a line of the given length is
// farther than ε from both ends.
func (x *Executor) interior(length, f float64) bool {
	return f*length > x.cfg.Tolerance && (1-f)*length > x.cfg.Tolerance
}
