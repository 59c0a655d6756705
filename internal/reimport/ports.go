package reimport

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"basenet/internal/network/models"
	"basenet/pkg/domain"
)

// RawFeature is one feature as delivered by the import source.
type RawFeature struct {
	ID         domain.FeatureID
	Geometry   orb.LineString
	Properties map[string]any
}

// ImportSource delivers the raw features intersecting an envelope. An error
// means the source is unreachable and aborts the run.
type ImportSource interface {
	Fetch(ctx context.Context, envelope orb.Bound) ([]RawFeature, error)
}

// AttributeMapper derives domain attributes from a raw feature. A
// CodeUnmappable error skips the feature.
type AttributeMapper interface {
	Map(f RawFeature) (models.MappedAttributes, error)
}

// DependencyChecker reports whether other data still references an edge.
// Edges with dependents are retired instead of deleted.
type DependencyChecker interface {
	HasDependents(ctx context.Context, edge domain.EdgeID) (bool, error)
}

// Locker serializes runs over the same extent. Acquire fails with
// CodeConflict when the key is held.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}
