// Package events defines the domain events other processes consume to learn
// about edge and node changes, and the transports that carry them.
//
// Events are appended to an outbox inside the partition transaction and
// forwarded by a Relay, so dependents never see events of rolled back work.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"basenet/pkg/domain"
)

// Type names an event kind.
type Type string

const (
	TypeEdgeReplaced    Type = "edge-replaced"
	TypeEdgeDeleted     Type = "edge-deleted"
	TypeNodeDeleted     Type = "node-deleted"
	TypeTopologyChanged Type = "topology-changed"
)

// Event is one graph change.
type Event struct {
	ID         uuid.UUID
	Type       Type
	OccurredAt time.Time
	EdgeID     domain.EdgeID
	NodeID     domain.NodeID
	// Successors of a replaced edge, in geometry order.
	Successors  []domain.EdgeID
	OldGeometry orb.LineString
	NewGeometry orb.LineString
	Version     int
}

func newEvent(t Type, now time.Time) Event {
	return Event{ID: uuid.New(), Type: t, OccurredAt: now.UTC()}
}

// EdgeReplaced records a split: old is gone, successors cover its geometry.
func EdgeReplaced(old domain.EdgeID, successors []domain.EdgeID, oldGeometry orb.LineString, now time.Time) Event {
	e := newEvent(TypeEdgeReplaced, now)
	e.EdgeID = old
	e.Successors = append([]domain.EdgeID(nil), successors...)
	e.OldGeometry = oldGeometry.Clone()
	return e
}

// EdgeDeleted records an edge removed without successors.
func EdgeDeleted(edge domain.EdgeID, geometry orb.LineString, now time.Time) Event {
	e := newEvent(TypeEdgeDeleted, now)
	e.EdgeID = edge
	e.OldGeometry = geometry.Clone()
	return e
}

// NodeDeleted records an orphaned node removal.
func NodeDeleted(node domain.NodeID, now time.Time) Event {
	e := newEvent(TypeNodeDeleted, now)
	e.NodeID = node
	return e
}

// TopologyChanged records a geometry replacement of a surviving edge.
func TopologyChanged(edge domain.EdgeID, oldGeometry, newGeometry orb.LineString, version int, now time.Time) Event {
	e := newEvent(TypeTopologyChanged, now)
	e.EdgeID = edge
	e.OldGeometry = oldGeometry.Clone()
	e.NewGeometry = newGeometry.Clone()
	e.Version = version
	return e
}

// AggregateID is the key events are partitioned by downstream.
func (e Event) AggregateID() string {
	if e.Type == TypeNodeDeleted {
		return "node:" + e.NodeID.String()
	}
	return "edge:" + e.EdgeID.String()
}

// payload is the wire form. Geometries travel as GeoJSON.
type payload struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	OccurredAt  string            `json:"occurred_at"`
	EdgeID      int64             `json:"edge_id,omitempty"`
	NodeID      int64             `json:"node_id,omitempty"`
	Successors  []int64           `json:"successors,omitempty"`
	OldGeometry *geojson.Geometry `json:"old_geometry,omitempty"`
	NewGeometry *geojson.Geometry `json:"new_geometry,omitempty"`
	Version     int               `json:"version,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	p := payload{
		ID:         e.ID.String(),
		Type:       e.Type,
		OccurredAt: e.OccurredAt.Format(time.RFC3339Nano),
		EdgeID:     int64(e.EdgeID),
		NodeID:     int64(e.NodeID),
		Version:    e.Version,
	}
	for _, s := range e.Successors {
		p.Successors = append(p.Successors, int64(s))
	}
	if len(e.OldGeometry) > 0 {
		p.OldGeometry = geojson.NewGeometry(e.OldGeometry)
	}
	if len(e.NewGeometry) > 0 {
		p.NewGeometry = geojson.NewGeometry(e.NewGeometry)
	}
	return json.Marshal(p)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, p.OccurredAt)
	if err != nil {
		return fmt.Errorf("event time: %w", err)
	}
	out := Event{
		ID:         id,
		Type:       p.Type,
		OccurredAt: at,
		EdgeID:     domain.EdgeID(p.EdgeID),
		NodeID:     domain.NodeID(p.NodeID),
		Version:    p.Version,
	}
	for _, s := range p.Successors {
		out.Successors = append(out.Successors, domain.EdgeID(s))
	}
	if out.OldGeometry, err = lineOf(p.OldGeometry); err != nil {
		return err
	}
	if out.NewGeometry, err = lineOf(p.NewGeometry); err != nil {
		return err
	}
	*e = out
	return nil
}

func lineOf(g *geojson.Geometry) (orb.LineString, error) {
	if g == nil {
		return nil, nil
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("event geometry is %s, want LineString", g.Type)
	}
	return ls, nil
}
