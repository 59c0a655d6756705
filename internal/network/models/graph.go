package models

import (
	"github.com/paulmach/orb"

	"basenet/internal/network/geom"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
)

// Source tags where a node or edge came from.
type Source string

const (
	SourceBaseNetwork Source = "DLM"
	SourceManual      Source = "MANUELL"
)

// NodeForm classifies a node by its role in the network.
type NodeForm string

const (
	NodeFormUnknown  NodeForm = "UNBEKANNT"
	NodeFormDeadEnd  NodeForm = "SACKGASSE"
	NodeFormPassage  NodeForm = "DURCHGANG"
	NodeFormJunction NodeForm = "KREUZUNG"
)

// FormForDegree derives the form of a node from its incident edge count.
func FormForDegree(degree int) NodeForm {
	switch {
	case degree <= 0:
		return NodeFormUnknown
	case degree == 1:
		return NodeFormDeadEnd
	case degree == 2:
		return NodeFormPassage
	default:
		return NodeFormJunction
	}
}

// Node is a shared endpoint of edges.
type Node struct {
	ID     domain.NodeID
	Point  orb.Point
	Source Source
	Form   NodeForm
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// Edge is a directed line between two nodes carrying attribute groups.
type Edge struct {
	ID          domain.EdgeID
	Geometry    orb.LineString
	Source      Source
	StartNode   domain.NodeID
	EndNode     domain.NodeID
	BaseNetwork bool
	// Version counts geometry replacements.
	Version    int
	Groups     AttributeGroups
	Attributes ScalarAttributes
}

// NewEdge builds an unpersisted edge over geometry between start and end.
func NewEdge(geometry orb.LineString, start, end domain.NodeID, source Source, attrs MappedAttributes) (*Edge, error) {
	if geom.IsDegenerate(geometry) {
		return nil, dErrors.New(dErrors.CodeDegenerateGeometry, "edge geometry has no length")
	}
	return &Edge{
		Geometry:    geometry.Clone(),
		Source:      source,
		StartNode:   start,
		EndNode:     end,
		BaseNetwork: true,
		Version:     1,
		Groups:      attrs.Groups(),
		Attributes:  attrs.Scalars,
	}, nil
}

// Length is the planar length of the geometry.
func (e *Edge) Length() float64 { return geom.Length(e.Geometry) }

func (e *Edge) StartPoint() orb.Point { return geom.Start(e.Geometry) }

func (e *Edge) EndPoint() orb.Point { return geom.End(e.Geometry) }

// Validate checks geometry and the coverage invariant of every group.
func (e *Edge) Validate() error {
	if geom.IsDegenerate(e.Geometry) {
		return dErrors.New(dErrors.CodeDegenerateGeometry, "edge geometry has no length")
	}
	if e.StartNode.IsZero() || e.EndNode.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "edge must reference two nodes")
	}
	return e.Groups.Validate()
}

// Touches reports whether the edge is incident to node.
func (e *Edge) Touches(node domain.NodeID) bool {
	return e.StartNode == node || e.EndNode == node
}

func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	c := *e
	c.Geometry = e.Geometry.Clone()
	c.Groups = e.Groups.Clone()
	return &c
}

// FeatureMapping links an import feature to the edges that currently
// represent it, in geometry order.
type FeatureMapping struct {
	FeatureID domain.FeatureID
	Edges     []domain.EdgeID
}

func (m *FeatureMapping) Clone() *FeatureMapping {
	if m == nil {
		return nil
	}
	return &FeatureMapping{FeatureID: m.FeatureID, Edges: append([]domain.EdgeID(nil), m.Edges...)}
}

// Replace swaps old for its successors in place. It reports whether old
// was mapped.
func (m *FeatureMapping) Replace(old domain.EdgeID, successors []domain.EdgeID) bool {
	for i, id := range m.Edges {
		if id != old {
			continue
		}
		next := make([]domain.EdgeID, 0, len(m.Edges)-1+len(successors))
		next = append(next, m.Edges[:i]...)
		next = append(next, successors...)
		next = append(next, m.Edges[i+1:]...)
		m.Edges = next
		return true
	}
	return false
}

// Remove drops edge from the mapping.
func (m *FeatureMapping) Remove(edge domain.EdgeID) {
	m.Replace(edge, nil)
}
