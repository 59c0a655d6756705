package reimport_test

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks ImportSource,AttributeMapper,DependencyChecker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"basenet/internal/network/defrag"
	"basenet/internal/network/events"
	"basenet/internal/network/models"
	"basenet/internal/network/protocol"
	"basenet/internal/network/runstats"
	"basenet/internal/network/store"
	"basenet/internal/network/topology"
	"basenet/internal/network/vernetzung"
	"basenet/internal/platform/metrics"
	"basenet/internal/reimport"
	"basenet/internal/reimport/mocks"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/testutil"
)

var extent = orb.Bound{Min: orb.Point{-1, -11}, Max: orb.Point{21, 11}}

type staticSource struct {
	features []reimport.RawFeature
}

func (s *staticSource) Fetch(_ context.Context, envelope orb.Bound) ([]reimport.RawFeature, error) {
	var out []reimport.RawFeature
	for _, f := range s.features {
		if f.Geometry.Bound().Intersects(envelope) {
			out = append(out, f)
		}
	}
	return out, nil
}

func raw(id string, props map[string]any, pts ...orb.Point) reimport.RawFeature {
	return reimport.RawFeature{ID: domain.FeatureID(id), Geometry: orb.LineString(pts), Properties: props}
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (reimport.Lease, error) {
	return nil, dErrors.New(dErrors.CodeConflict, "run lock is held")
}

type JobSuite struct {
	suite.Suite
	ctx    context.Context
	ctrl   *gomock.Controller
	store  *store.InMemory
	proto  *protocol.Memory
	source *staticSource
}

func TestJobSuite(t *testing.T) {
	suite.Run(t, new(JobSuite))
}

func (s *JobSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemory()
	s.proto = protocol.NewMemory()
	s.source = &staticSource{}
}

func (s *JobSuite) job(source reimport.ImportSource, mapper reimport.AttributeMapper, opts ...reimport.Option) *reimport.Job {
	exec, err := topology.New(topology.Config{Tolerance: 0.001, SearchBuffer: 1, LoopBound: 5})
	s.Require().NoError(err)
	sweep, err := vernetzung.New(0.001)
	s.Require().NoError(err)
	dj, err := defrag.New(0)
	s.Require().NoError(err)

	opts = append([]reimport.Option{reimport.WithProtocol(s.proto)}, opts...)
	j, err := reimport.New(
		reimport.Config{Extent: extent, Partitions: 2, BorderMargin: 1},
		s.store, source, mapper, exec, sweep, dj, opts...,
	)
	s.Require().NoError(err)
	return j
}

func (s *JobSuite) run(features ...reimport.RawFeature) runstats.Report {
	s.source.features = features
	report, err := s.job(s.source, reimport.DefaultPropertyMapper()).Run(s.ctx)
	s.Require().NoError(err)
	return report
}

func (s *JobSuite) mapped(id string) []domain.EdgeID {
	m, err := s.store.FindMapping(s.ctx, domain.FeatureID(id))
	s.Require().NoError(err)
	return m.Edges
}

func (s *JobSuite) edge(id domain.EdgeID) *models.Edge {
	e, err := s.store.FindEdge(s.ctx, id)
	s.Require().NoError(err)
	return e
}

func (s *JobSuite) TestScenario() {
	t := s.T()
	speed30 := map[string]any{"speed": 30.0}
	cross := raw("P", nil, orb.Point{10, 0}, orb.Point{10, -10})
	var original domain.EdgeID

	testutil.Given(t, "an empty graph", func(t *testing.T) {
		testutil.When(t, "the first run imports A and a perpendicular edge", func(t *testing.T) {
			report := s.run(raw("A", speed30, orb.Point{0, 0}, orb.Point{10, 0}), cross)

			testutil.Then(t, "both edges share the node at (10,0)", func(t *testing.T) {
				assert.Equal(t, 2, report.Counts.EdgesAdded)
				assert.Equal(t, 3, report.Counts.NodesAdded)
				nodes, edges := s.store.Counts()
				assert.Equal(t, 3, nodes)
				assert.Equal(t, 2, edges)
				original = s.mapped("A")[0]
			})
		})
	})

	testutil.When(t, "run 2 moves A's end within tolerance", func(t *testing.T) {
		report := s.run(raw("A", speed30, orb.Point{0, 0}, orb.Point{10, 0.0005}), cross)

		testutil.Then(t, "A keeps its id and groups", func(t *testing.T) {
			assert.False(t, report.Counts.Changed())
			require.Equal(t, []domain.EdgeID{original}, s.mapped("A"))
			e := s.edge(original)
			assert.True(t, e.Groups.Speed.Equal(models.FullLength(models.Speed("30"))))
			assert.Equal(t, orb.Point{10, 0}, e.EndPoint())
		})
	})

	testutil.When(t, "run 3 moves A's end to (10,5) through the shared node", func(t *testing.T) {
		report := s.run(raw("A", speed30, orb.Point{0, 0}, orb.Point{10, 0}, orb.Point{10, 5}), cross)

		testutil.Then(t, "A is split into two successors and one node is added", func(t *testing.T) {
			assert.Equal(t, 1, report.Counts.Splits)
			assert.Equal(t, 1, report.Counts.NodesAdded)
			assert.False(t, report.Fatal)

			succ := s.mapped("A")
			require.Len(t, succ, 2)
			assert.NotContains(t, succ, original)
			assert.Equal(t, orb.Point{10, 5}, s.edge(succ[1]).EndPoint())

			nodes, edges := s.store.Counts()
			assert.Equal(t, 4, nodes)
			assert.Equal(t, 3, edges)

			var replaced int
			for _, ev := range s.store.Events() {
				if ev.Type == events.TypeEdgeReplaced && ev.EdgeID == original {
					replaced++
				}
			}
			assert.Equal(t, 1, replaced)
		})
	})

	testutil.When(t, "run 4 repeats run 3", func(t *testing.T) {
		before := s.mapped("A")
		report := s.run(raw("A", speed30, orb.Point{0, 0}, orb.Point{10, 0}, orb.Point{10, 5}), cross)

		testutil.Then(t, "nothing changes", func(t *testing.T) {
			assert.False(t, report.Counts.Changed())
			assert.Zero(t, report.Counts.EdgesAdded)
			assert.Equal(t, before, s.mapped("A"))
			nodes, edges := s.store.Counts()
			assert.Equal(t, 4, nodes)
			assert.Equal(t, 3, edges)
		})
	})
}

func (s *JobSuite) TestScenarioInteriorCrossing() {
	t := s.T()
	speed30 := map[string]any{"speed": 30.0}
	cross := raw("Q", nil, orb.Point{5, 2}, orb.Point{5, 8})
	var original domain.EdgeID

	testutil.Given(t, "A and a perpendicular edge that do not touch", func(t *testing.T) {
		s.run(raw("A", speed30, orb.Point{0, 0}, orb.Point{10, 0}), cross)
		original = s.mapped("A")[0]
		nodes, edges := s.store.Counts()
		require.Equal(t, 4, nodes)
		require.Equal(t, 2, edges)
	})

	testutil.When(t, "run 3 bends A through the interior of the other edge", func(t *testing.T) {
		report := s.run(raw("A", speed30, orb.Point{0, 0}, orb.Point{5, 5}, orb.Point{10, 0}), cross)

		testutil.Then(t, "both edges are split at one new node", func(t *testing.T) {
			assert.False(t, report.Fatal)
			assert.Equal(t, 1, report.Counts.NodesAdded)
			assert.Equal(t, 2, report.Counts.Splits)
			assert.Empty(t, s.proto.OfKind(protocol.KindAmbiguousSplit))

			succ := s.mapped("A")
			require.Len(t, succ, 2)
			assert.NotContains(t, succ, original)
			joint := s.edge(succ[0])
			assert.Equal(t, orb.Point{5, 5}, joint.EndPoint())
			assert.Len(t, s.mapped("Q"), 2)

			at, err := s.store.EdgesAtNode(s.ctx, joint.EndNode)
			require.NoError(t, err)
			assert.Len(t, at, 4)
			nodes, edges := s.store.Counts()
			assert.Equal(t, 5, nodes)
			assert.Equal(t, 4, edges)
		})
	})

	testutil.When(t, "run 4 repeats run 3", func(t *testing.T) {
		report := s.run(raw("A", speed30, orb.Point{0, 0}, orb.Point{5, 5}, orb.Point{10, 0}), cross)

		testutil.Then(t, "nothing changes", func(t *testing.T) {
			assert.False(t, report.Counts.Changed())
			nodes, edges := s.store.Counts()
			assert.Equal(t, 5, nodes)
			assert.Equal(t, 4, edges)
		})
	})
}

func (s *JobSuite) TestCrossingFeaturesCreatedInOneRun() {
	report := s.run(
		raw("A", nil, orb.Point{0, 0}, orb.Point{20, 0}),
		raw("V", nil, orb.Point{5, -5}, orb.Point{5, 5}),
	)

	s.False(report.Fatal)
	s.Equal(1, report.Counts.Splits)
	s.Equal(5, report.Counts.NodesAdded)
	nodes, edges := s.store.Counts()
	s.Equal(5, nodes, "the crossing gets a node")
	s.Equal(4, edges)
	s.Len(s.mapped("A"), 2)
	s.Len(s.mapped("V"), 2)

	again := s.run(
		raw("A", nil, orb.Point{0, 0}, orb.Point{20, 0}),
		raw("V", nil, orb.Point{5, -5}, orb.Point{5, 5}),
	)
	s.False(again.Counts.Changed())
}

func (s *JobSuite) TestIdempotentRerun() {
	features := []reimport.RawFeature{
		raw("w", map[string]any{"direction": "vorwaerts"}, orb.Point{0, 0}, orb.Point{5, 0}),
		raw("x", nil, orb.Point{5, 0}, orb.Point{15, 0}),
		raw("e", map[string]any{"way_form": "RADWEG"}, orb.Point{15, 0}, orb.Point{20, 3}),
	}
	first := s.run(features...)
	s.Equal(3, first.Counts.EdgesAdded)
	s.Equal(4, first.Counts.NodesAdded)
	s.Equal(2, first.Counts.PartitionsProcessed)

	second := s.run(features...)
	s.False(second.Counts.Changed())
	s.Equal(3, second.Counts.FeaturesRead)
	nodes, edges := s.store.Counts()
	s.Equal(4, nodes)
	s.Equal(3, edges)
}

func (s *JobSuite) TestVanishedFeatureDeleted() {
	s.run(
		raw("A", nil, orb.Point{0, 0}, orb.Point{5, 0}),
		raw("B", nil, orb.Point{0, 5}, orb.Point{5, 5}),
	)
	b := s.mapped("B")[0]

	report := s.run(raw("A", nil, orb.Point{0, 0}, orb.Point{5, 0}))

	s.Equal(1, report.Counts.FeaturesVanished)
	s.Equal(1, report.Counts.EdgesDeleted)
	s.Equal(2, report.Counts.NodesDeleted, "orphans removed by the sweep")
	_, err := s.store.FindMapping(s.ctx, "B")
	s.Error(err)
	_, err = s.store.FindEdge(s.ctx, b)
	s.Error(err)
	nodes, edges := s.store.Counts()
	s.Equal(2, nodes)
	s.Equal(1, edges)

	var deleted []events.Event
	for _, ev := range s.store.Events() {
		if ev.Type == events.TypeEdgeDeleted {
			deleted = append(deleted, ev)
		}
	}
	s.Require().Len(deleted, 1)
	s.Equal(b, deleted[0].EdgeID)
}

func (s *JobSuite) TestVanishedFeatureWithDependentsRetired() {
	a := raw("A", nil, orb.Point{0, 0}, orb.Point{5, 0})
	bf := raw("B", nil, orb.Point{0, 5}, orb.Point{5, 5})
	s.run(a, bf)
	b := s.mapped("B")[0]

	deps := mocks.NewMockDependencyChecker(s.ctrl)
	deps.EXPECT().HasDependents(gomock.Any(), b).Return(true, nil).AnyTimes()
	runWith := func(features ...reimport.RawFeature) runstats.Report {
		s.source.features = features
		report, err := s.job(s.source, reimport.DefaultPropertyMapper(), reimport.WithDependencyChecker(deps)).Run(s.ctx)
		s.Require().NoError(err)
		return report
	}

	report := runWith(a)
	s.Equal(1, report.Counts.EdgesRetired)
	s.Zero(report.Counts.EdgesDeleted)
	s.False(s.edge(b).BaseNetwork)
	s.Equal([]domain.EdgeID{b}, s.mapped("B"))

	report = runWith(a)
	s.Zero(report.Counts.EdgesRetired, "already retired")

	runWith(a, bf)
	s.True(s.edge(b).BaseNetwork, "reappearing feature restores the edge")
}

func (s *JobSuite) TestPartitionFailureRollsBackOnlyThatPartition() {
	mapper := mocks.NewMockAttributeMapper(s.ctrl)
	mapper.EXPECT().Map(gomock.Any()).DoAndReturn(func(f reimport.RawFeature) (models.MappedAttributes, error) {
		if f.ID == "east" {
			return models.MappedAttributes{}, dErrors.New(dErrors.CodeInternal, "mapper crashed")
		}
		return models.MappedAttributes{}, nil
	}).AnyTimes()

	s.source.features = []reimport.RawFeature{
		raw("west", nil, orb.Point{0, 0}, orb.Point{5, 0}),
		raw("east2", nil, orb.Point{12, 3}, orb.Point{18, 3}),
		raw("east", nil, orb.Point{15, 0}, orb.Point{20, 0}),
	}
	report, err := s.job(s.source, mapper).Run(s.ctx)
	s.Require().NoError(err)

	s.True(report.Fatal)
	s.False(report.Aborted)
	s.Equal(1, report.Counts.PartitionsProcessed)
	s.Equal(1, report.Counts.PartitionsFailed)
	s.Len(s.mapped("west"), 1)
	_, err = s.store.FindMapping(s.ctx, "east2")
	s.Error(err, "work before the failure is rolled back")
	s.Len(s.proto.OfKind(protocol.KindPartitionFailed), 1)

	report = s.run(s.source.features...)
	s.False(report.Fatal)
	s.Len(s.mapped("east2"), 1)
	s.Len(s.mapped("east"), 1)
	s.Zero(report.Counts.FeaturesVanished)
}

func (s *JobSuite) TestUnreachableSourceAbortsRun() {
	parts, err := reimport.Strips(extent, 2)
	s.Require().NoError(err)

	source := mocks.NewMockImportSource(s.ctrl)
	gomock.InOrder(
		source.EXPECT().Fetch(gomock.Any(), parts[0].Bound).Return([]reimport.RawFeature{
			raw("west", nil, orb.Point{0, 0}, orb.Point{5, 0}),
		}, nil),
		source.EXPECT().Fetch(gomock.Any(), parts[1].Bound).Return(nil, errors.New("connection refused")),
	)

	report, err := s.job(source, reimport.DefaultPropertyMapper()).Run(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, reimport.ErrAborted)
	s.True(report.Aborted)
	s.Len(s.mapped("west"), 1, "committed partitions stay")
}

func (s *JobSuite) TestUnmappableFeatureSkipped() {
	report := s.run(
		raw("ok", nil, orb.Point{0, 0}, orb.Point{5, 0}),
		raw("bad", map[string]any{"direction": "SIDEWAYS"}, orb.Point{0, 3}, orb.Point{5, 3}),
	)
	s.False(report.Fatal)
	s.Equal(1, report.Counts.FeaturesUnmappable)
	s.Equal(1, report.Counts.EdgesAdded)
	s.Len(s.proto.OfKind(protocol.KindUnmappable), 1)
	_, err := s.store.FindMapping(s.ctx, "bad")
	s.Error(err)
}

func (s *JobSuite) TestDegenerateFeatureSkipped() {
	report := s.run(raw("dot", nil, orb.Point{3, 3}, orb.Point{3, 3}))
	s.False(report.Fatal)
	s.Equal(1, report.Counts.FeaturesDegenerate)
	s.Zero(report.Counts.EdgesAdded)
	s.Len(s.proto.OfKind(protocol.KindDegenerateGeometry), 1)
}

func (s *JobSuite) TestHeldLockAbortsRun() {
	report, err := s.job(s.source, reimport.DefaultPropertyMapper(), reimport.WithLocker(heldLocker{})).Run(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, reimport.ErrAborted)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.True(report.Aborted)
}

func (s *JobSuite) TestCancelledBeforeFirstPartition() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.source.features = []reimport.RawFeature{raw("w", nil, orb.Point{0, 0}, orb.Point{5, 0})}

	_, err := s.job(s.source, reimport.DefaultPropertyMapper()).Run(ctx)
	s.ErrorIs(err, reimport.ErrAborted)
	s.ErrorIs(err, context.Canceled)
	nodes, _ := s.store.Counts()
	s.Zero(nodes)
}

func (s *JobSuite) TestMetricsAndSpans() {
	m := metrics.New()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	s.source.features = []reimport.RawFeature{
		raw("w", nil, orb.Point{0, 0}, orb.Point{5, 0}),
		raw("e", map[string]any{"speed": "fast"}, orb.Point{15, 0}, orb.Point{20, 0}),
	}
	_, err := s.job(s.source, reimport.DefaultPropertyMapper(),
		reimport.WithMetrics(m),
		reimport.WithTracer(tp.Tracer("test")),
	).Run(s.ctx)
	s.Require().NoError(err)

	s.Equal(1.0, promtest.ToFloat64(m.EdgesAdded))
	s.Equal(1.0, promtest.ToFloat64(m.Anomalies.WithLabelValues(string(protocol.KindUnmappable))))
	s.Equal(1.0, promtest.ToFloat64(m.LastRunSuccess))

	spans := rec.Ended()
	s.Require().Len(spans, 2)
	for i, span := range spans {
		s.Equal("reimport.partition", span.Name())
		s.Contains(span.Attributes(), attribute.Int("partition.index", i))
		s.Contains(span.Attributes(), attribute.Int("partition.features", 1))
	}
}
