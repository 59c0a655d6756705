package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/suite"

	"basenet/internal/network/events"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
)

func TestInMemoryContract(t *testing.T) {
	suite.Run(t, &contractSuite{newStore: func() graph { return NewInMemory() }})
}

type InMemorySuite struct {
	suite.Suite
	store *InMemory
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
}

func (s *InMemorySuite) TestOutboxFollowsCommit() {
	ctx := context.Background()
	now := time.Now()

	s.Require().NoError(s.store.RunInTx(ctx, func(tx ports.Store) error {
		return tx.AppendEvent(ctx, events.NodeDeleted(1, now))
	}))
	_ = s.store.RunInTx(ctx, func(tx ports.Store) error {
		_ = tx.AppendEvent(ctx, events.NodeDeleted(2, now))
		return context.Canceled
	})

	pending, err := s.store.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(events.TypeNodeDeleted, pending[0].Type)

	s.Require().NoError(s.store.MarkPublished(ctx, []uuid.UUID{pending[0].ID}))
	pending, err = s.store.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
	s.Len(s.store.Events(), 1)
}

func (s *InMemorySuite) TestStoredEntitiesAreCopies() {
	ctx := context.Background()
	n := &models.Node{Point: orb.Point{1, 1}}
	s.Require().NoError(s.store.CreateNode(ctx, n))

	n.Point = orb.Point{99, 99}
	got, err := s.store.FindNode(ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(orb.Point{1, 1}, got.Point)
}

func (s *InMemorySuite) TestCancelledContextRejected() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.store.RunInTx(ctx, func(ports.Store) error { called = true; return nil })
	s.Error(err)
	s.False(called)
}
