// Package ports defines the graph store interfaces shared by the network
// services and jobs.
package ports

import (
	"context"

	"github.com/paulmach/orb"

	"basenet/internal/network/events"
	"basenet/internal/network/models"
	"basenet/pkg/domain"
)

// NodeStore persists nodes. Create assigns the id.
type NodeStore interface {
	CreateNode(ctx context.Context, node *models.Node) error
	FindNode(ctx context.Context, id domain.NodeID) (*models.Node, error)
	UpdateNode(ctx context.Context, node *models.Node) error
	DeleteNode(ctx context.Context, id domain.NodeID) error
	NodesInBound(ctx context.Context, bound orb.Bound) ([]*models.Node, error)
}

// EdgeStore persists edges together with their attribute groups.
type EdgeStore interface {
	CreateEdge(ctx context.Context, edge *models.Edge) error
	FindEdge(ctx context.Context, id domain.EdgeID) (*models.Edge, error)
	UpdateEdge(ctx context.Context, edge *models.Edge) error
	DeleteEdge(ctx context.Context, id domain.EdgeID) error
	// EdgesInBound returns edges whose geometry bound intersects bound,
	// ordered by id.
	EdgesInBound(ctx context.Context, bound orb.Bound) ([]*models.Edge, error)
	// EdgesAtNode returns edges starting or ending at node, ordered by id.
	EdgesAtNode(ctx context.Context, node domain.NodeID) ([]*models.Edge, error)
}

// MappingStore persists the feature to edge mapping.
type MappingStore interface {
	FindMapping(ctx context.Context, feature domain.FeatureID) (*models.FeatureMapping, error)
	SaveMapping(ctx context.Context, mapping *models.FeatureMapping) error
	DeleteMapping(ctx context.Context, feature domain.FeatureID) error
	MappingsForEdge(ctx context.Context, edge domain.EdgeID) ([]*models.FeatureMapping, error)
	ListMappings(ctx context.Context) ([]*models.FeatureMapping, error)
}

// EventOutbox queues domain events with the surrounding transaction.
type EventOutbox interface {
	AppendEvent(ctx context.Context, event events.Event) error
}

// Store is the full graph store as seen inside a transaction.
type Store interface {
	NodeStore
	EdgeStore
	MappingStore
	EventOutbox
}

// Tx runs fn atomically: every write inside fn commits together or not at
// all.
type Tx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}
