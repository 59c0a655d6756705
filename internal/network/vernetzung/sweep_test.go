package vernetzung

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/suite"

	"basenet/internal/network/events"
	"basenet/internal/network/index"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/internal/network/runstats"
	"basenet/internal/network/store"
)

var region = orb.Bound{Min: orb.Point{-100, -100}, Max: orb.Point{100, 100}}

type SweepSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.InMemory
	proto *protocol.Memory
	sweep *Service
}

func TestSweepSuite(t *testing.T) {
	suite.Run(t, new(SweepSuite))
}

func (s *SweepSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.proto = protocol.NewMemory()
	sweep, err := New(0.001)
	s.Require().NoError(err)
	s.sweep = sweep
}

func (s *SweepSuite) node(x, y float64) *models.Node {
	n := &models.Node{Point: orb.Point{x, y}, Source: models.SourceBaseNetwork}
	s.Require().NoError(s.store.CreateNode(s.ctx, n))
	return n
}

func (s *SweepSuite) edge(a, b *models.Node, attrs models.MappedAttributes) *models.Edge {
	e, err := models.NewEdge(orb.LineString{a.Point, b.Point}, a.ID, b.ID, models.SourceBaseNetwork, attrs)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateEdge(s.ctx, e))
	return e
}

func (s *SweepSuite) run() Report {
	nodes, err := s.store.NodesInBound(s.ctx, region)
	s.Require().NoError(err)
	sess := &ports.Session{Store: s.store, Index: index.Build(nodes), Stats: runstats.New(), Protocol: s.proto}
	r, err := s.sweep.Sweep(s.ctx, sess, region)
	s.Require().NoError(err)
	return r
}

func (s *SweepSuite) TestDeletesOrphans() {
	a, b := s.node(0, 0), s.node(10, 0)
	e := s.edge(a, b, models.MappedAttributes{})
	lonely := s.node(50, 50)
	s.Require().NoError(s.store.DeleteEdge(s.ctx, e.ID))

	r := s.run()

	s.Equal(3, r.NodesDeleted)
	nodes, _ := s.store.Counts()
	s.Zero(nodes)
	var deleted []events.Event
	for _, ev := range s.store.Events() {
		if ev.Type == events.TypeNodeDeleted {
			deleted = append(deleted, ev)
		}
	}
	s.Len(deleted, 3)
	_, err := s.store.FindNode(s.ctx, lonely.ID)
	s.Error(err)
}

func (s *SweepSuite) TestResnapsDriftedNode() {
	a, b := s.node(0, 0), s.node(10, 0)
	e := s.edge(a, b, models.MappedAttributes{})
	drifted := a.Clone()
	drifted.Point = orb.Point{5, 5}
	s.Require().NoError(s.store.UpdateNode(s.ctx, drifted))

	r := s.run()

	s.Equal(1, r.Resnapped)
	s.Equal(1, r.NodesCreated)
	s.Equal(1, r.NodesDeleted, "the drifted node lost its only edge")
	got, err := s.store.FindEdge(s.ctx, e.ID)
	s.Require().NoError(err)
	s.NotEqual(a.ID, got.StartNode)
	start, err := s.store.FindNode(s.ctx, got.StartNode)
	s.Require().NoError(err)
	s.Equal(orb.Point{0, 0}, start.Point)

	again := s.run()
	s.Zero(again.Resnapped)
	s.Zero(again.NodesCreated)
	s.Zero(again.NodesDeleted)
}

func (s *SweepSuite) TestResnapPrefersExistingNode() {
	a, b := s.node(0, 0), s.node(10, 0)
	e := s.edge(a, b, models.MappedAttributes{})
	c := s.node(10, 10)
	s.edge(s.node(0.0004, 0), c, models.MappedAttributes{})
	drifted := a.Clone()
	drifted.Point = orb.Point{-3, 0}
	s.Require().NoError(s.store.UpdateNode(s.ctx, drifted))

	r := s.run()

	s.Equal(1, r.Resnapped)
	s.Zero(r.NodesCreated)
	got, err := s.store.FindEdge(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(orb.Point{0.0004, 0}, got.StartPoint())
}

func (s *SweepSuite) TestResnapBumpsVersionAndAnnounces() {
	a, b := s.node(0, 0), s.node(10, 0)
	e := s.edge(a, b, models.MappedAttributes{})
	s.edge(s.node(0.0004, 0), s.node(0, 10), models.MappedAttributes{})
	drifted := a.Clone()
	drifted.Point = orb.Point{-3, 0}
	s.Require().NoError(s.store.UpdateNode(s.ctx, drifted))

	s.run()

	got, err := s.store.FindEdge(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(e.Version+1, got.Version)
	var changed []events.Event
	for _, ev := range s.store.Events() {
		if ev.Type == events.TypeTopologyChanged {
			changed = append(changed, ev)
		}
	}
	s.Require().Len(changed, 1)
	s.Equal(e.ID, changed[0].EdgeID)
	s.Equal(got.Version, changed[0].Version)

	s.run()
	again, err := s.store.FindEdge(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(got.Version, again.Version, "a clean sweep leaves versions alone")
}

func (s *SweepSuite) TestClassifiesForms() {
	hub := s.node(0, 0)
	ends := []*models.Node{s.node(10, 0), s.node(0, 10), s.node(-10, 0)}
	for _, n := range ends {
		s.edge(hub, n, models.MappedAttributes{})
	}

	r := s.run()

	s.Equal(4, r.FormsUpdated)
	got, err := s.store.FindNode(s.ctx, hub.ID)
	s.Require().NoError(err)
	s.Equal(models.NodeFormJunction, got.Form)
	got, err = s.store.FindNode(s.ctx, ends[0].ID)
	s.Require().NoError(err)
	s.Equal(models.NodeFormDeadEnd, got.Form)

	s.Zero(s.run().FormsUpdated)
}

func (s *SweepSuite) TestMergeCandidates() {
	s.Run("collinear with equal attributes", func() {
		s.SetupTest()
		a, n, b := s.node(0, 0), s.node(10, 0), s.node(20, 0.5)
		s.edge(a, n, models.MappedAttributes{Speed: "30"})
		s.edge(n, b, models.MappedAttributes{Speed: "30"})

		r := s.run()
		s.Equal(1, r.MergeCandidates)
		flagged := s.proto.OfKind(protocol.KindMergeCandidate)
		s.Require().Len(flagged, 1)
		s.Equal(n.ID, flagged[0].NodeID)
		_, edges := s.store.Counts()
		s.Equal(2, edges, "nothing is merged")
	})

	s.Run("different attributes", func() {
		s.SetupTest()
		a, n, b := s.node(0, 0), s.node(10, 0), s.node(20, 0)
		s.edge(a, n, models.MappedAttributes{Speed: "30"})
		s.edge(n, b, models.MappedAttributes{Speed: "50"})
		s.Zero(s.run().MergeCandidates)
	})

	s.Run("corner", func() {
		s.SetupTest()
		a, n, b := s.node(0, 0), s.node(10, 0), s.node(10, 10)
		s.edge(a, n, models.MappedAttributes{})
		s.edge(n, b, models.MappedAttributes{})
		s.Zero(s.run().MergeCandidates)
	})
}

func (s *SweepSuite) TestRejectsNonPositiveTolerance() {
	_, err := New(0)
	s.Error(err)
}
