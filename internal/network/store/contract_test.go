package store

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/suite"

	"basenet/internal/network/events"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/pkg/domain"
	"basenet/pkg/platform/sentinel"
)

// graph is what every store implementation offers.
type graph interface {
	ports.Store
	ports.Tx
}

// contractSuite runs the same behavioural checks against any store.
type contractSuite struct {
	suite.Suite
	newStore func() graph
	store    graph
	ctx      context.Context
}

func (s *contractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

func (s *contractSuite) node(x, y float64) *models.Node {
	n := &models.Node{Point: orb.Point{x, y}, Source: models.SourceBaseNetwork, Form: models.NodeFormUnknown}
	s.Require().NoError(s.store.CreateNode(s.ctx, n))
	s.Require().NotZero(n.ID)
	return n
}

func (s *contractSuite) edge(a, b *models.Node, attrs models.MappedAttributes) *models.Edge {
	e, err := models.NewEdge(orb.LineString{a.Point, b.Point}, a.ID, b.ID, models.SourceBaseNetwork, attrs)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateEdge(s.ctx, e))
	return e
}

func (s *contractSuite) TestEdgeRoundTrip() {
	a, b := s.node(0, 0), s.node(10, 0)
	e := s.edge(a, b, models.MappedAttributes{Speed: "30", Scalars: models.ScalarAttributes{StreetName: "Hauptstr."}})

	e.Groups.Direction = models.Group[models.Direction]{Segments: []models.Segment[models.Direction]{
		{Range: models.LinearRange{From: 0, To: 0.4}, Value: models.DirectionForward},
		{Range: models.LinearRange{From: 0.4, To: 1}, Value: models.DirectionBoth},
	}}
	s.Require().NoError(s.store.UpdateEdge(s.ctx, e))

	got, err := s.store.FindEdge(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(e.Geometry, got.Geometry)
	s.Equal(a.ID, got.StartNode)
	s.Equal(b.ID, got.EndNode)
	s.True(got.BaseNetwork)
	s.Equal(1, got.Version)
	s.Equal("Hauptstr.", got.Attributes.StreetName)
	s.True(e.Groups.Equal(got.Groups))
	s.Require().NoError(got.Validate())
}

func (s *contractSuite) TestQueries() {
	a, b, c := s.node(0, 0), s.node(10, 0), s.node(10, 10)
	ab := s.edge(a, b, models.MappedAttributes{})
	bc := s.edge(b, c, models.MappedAttributes{})

	s.Run("edges at node", func() {
		at, err := s.store.EdgesAtNode(s.ctx, b.ID)
		s.Require().NoError(err)
		s.Require().Len(at, 2)
		s.Equal(ab.ID, at[0].ID)
		s.Equal(bc.ID, at[1].ID)
	})

	s.Run("edges in bound", func() {
		in, err := s.store.EdgesInBound(s.ctx, orb.Bound{Min: orb.Point{9, 5}, Max: orb.Point{11, 6}})
		s.Require().NoError(err)
		s.Require().Len(in, 1)
		s.Equal(bc.ID, in[0].ID)
	})

	s.Run("nodes in bound", func() {
		in, err := s.store.NodesInBound(s.ctx, orb.Bound{Min: orb.Point{5, -1}, Max: orb.Point{11, 1}})
		s.Require().NoError(err)
		s.Require().Len(in, 1)
		s.Equal(b.ID, in[0].ID)
	})
}

func (s *contractSuite) TestNodeDeletion() {
	a, b := s.node(0, 0), s.node(10, 0)
	e := s.edge(a, b, models.MappedAttributes{})

	err := s.store.DeleteNode(s.ctx, a.ID)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrInvalidState))

	s.Require().NoError(s.store.DeleteEdge(s.ctx, e.ID))
	s.Require().NoError(s.store.DeleteNode(s.ctx, a.ID))

	_, err = s.store.FindNode(s.ctx, a.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
	_, err = s.store.FindEdge(s.ctx, e.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *contractSuite) TestMappings() {
	a, b, c := s.node(0, 0), s.node(10, 0), s.node(20, 0)
	ab := s.edge(a, b, models.MappedAttributes{})
	bc := s.edge(b, c, models.MappedAttributes{})

	s.Require().NoError(s.store.SaveMapping(s.ctx, &models.FeatureMapping{FeatureID: "f1", Edges: []domain.EdgeID{ab.ID, bc.ID}}))
	s.Require().NoError(s.store.SaveMapping(s.ctx, &models.FeatureMapping{FeatureID: "f2", Edges: []domain.EdgeID{bc.ID}}))

	got, err := s.store.FindMapping(s.ctx, "f1")
	s.Require().NoError(err)
	s.Equal([]domain.EdgeID{ab.ID, bc.ID}, got.Edges)

	owners, err := s.store.MappingsForEdge(s.ctx, bc.ID)
	s.Require().NoError(err)
	s.Require().Len(owners, 2)
	s.Equal(domain.FeatureID("f1"), owners[0].FeatureID)

	s.Require().NoError(s.store.SaveMapping(s.ctx, &models.FeatureMapping{FeatureID: "f1", Edges: []domain.EdgeID{ab.ID}}))
	owners, err = s.store.MappingsForEdge(s.ctx, bc.ID)
	s.Require().NoError(err)
	s.Len(owners, 1)

	s.Require().NoError(s.store.DeleteMapping(s.ctx, "f2"))
	_, err = s.store.FindMapping(s.ctx, "f2")
	s.True(errors.Is(err, sentinel.ErrNotFound))

	all, err := s.store.ListMappings(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *contractSuite) TestRunInTx() {
	s.Run("failed transaction leaves no trace", func() {
		boom := errors.New("partition failed")
		var created domain.NodeID
		err := s.store.RunInTx(s.ctx, func(tx ports.Store) error {
			n := &models.Node{Point: orb.Point{5, 5}, Source: models.SourceBaseNetwork}
			if err := tx.CreateNode(s.ctx, n); err != nil {
				return err
			}
			created = n.ID
			if err := tx.AppendEvent(s.ctx, events.NodeDeleted(n.ID, time.Now())); err != nil {
				return err
			}
			return boom
		})
		s.Require().ErrorIs(err, boom)

		_, err = s.store.FindNode(s.ctx, created)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("successful transaction commits", func() {
		var created domain.NodeID
		err := s.store.RunInTx(s.ctx, func(tx ports.Store) error {
			n := &models.Node{Point: orb.Point{7, 7}, Source: models.SourceBaseNetwork}
			if err := tx.CreateNode(s.ctx, n); err != nil {
				return err
			}
			created = n.ID
			return nil
		})
		s.Require().NoError(err)

		got, err := s.store.FindNode(s.ctx, created)
		s.Require().NoError(err)
		s.Equal(orb.Point{7, 7}, got.Point)
		s.Equal(models.NodeFormUnknown, got.Form)
	})
}
