// Package index provides the in-memory spatial node index used during one
// partition pass.
//
// The KD tree is built once from the nodes of the partition plus a border
// margin. Nodes created, moved or removed during the pass are tracked in an
// overlay so lookups stay consistent without a rebuild. A nil or empty index
// answers every lookup with "none".
package index

import (
	"context"
	"log/slog"
	"slices"

	"github.com/paulmach/orb"

	"basenet/internal/network/models"
	"basenet/pkg/domain"
)

// NodeLister is the store query the index is built from.
type NodeLister interface {
	NodesInBound(ctx context.Context, bound orb.Bound) ([]*models.Node, error)
}

// NodeIndex answers nearest-node queries for one pass. Not safe for
// concurrent use.
type NodeIndex struct {
	root *kdNode
	// overlay holds positions that override the tree; removed hides ids.
	overlay map[domain.NodeID]orb.Point
	removed map[domain.NodeID]struct{}
	live    map[domain.NodeID]struct{}
}

// Build indexes nodes.
func Build(nodes []*models.Node) *NodeIndex {
	es := make([]entry, 0, len(nodes))
	live := make(map[domain.NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		es = append(es, entry{id: n.ID, p: n.Point})
		live[n.ID] = struct{}{}
	}
	return &NodeIndex{
		root:    buildKD(es, 0),
		overlay: make(map[domain.NodeID]orb.Point),
		removed: make(map[domain.NodeID]struct{}),
		live:    live,
	}
}

// Load builds the index from the nodes in bound padded by margin. A failed
// query degrades to an empty index.
func Load(ctx context.Context, lister NodeLister, bound orb.Bound, margin float64, logger *slog.Logger) *NodeIndex {
	nodes, err := lister.NodesInBound(ctx, bound.Pad(margin))
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "node index build failed, continuing without index",
			"error", err,
			"margin", margin,
		)
		return Build(nil)
	}
	return Build(nodes)
}

// hidden filters tree entries that were removed or re-positioned.
func (ix *NodeIndex) hidden(id domain.NodeID) bool {
	if _, ok := ix.removed[id]; ok {
		return true
	}
	_, ok := ix.overlay[id]
	return ok
}

// FindNearest returns the closest node within eps of p. Equidistant nodes
// resolve to the lowest id.
func (ix *NodeIndex) FindNearest(p orb.Point, eps float64) (domain.NodeID, bool) {
	if ix == nil {
		return 0, false
	}
	best, bestD, found := nearest(ix.root, p, eps, ix.hidden)
	for id, q := range ix.overlay {
		d := dist(p, q)
		if d > eps {
			continue
		}
		if !found || d < bestD || (d == bestD && id < best.id) {
			best, bestD, found = entry{id: id, p: q}, d, true
		}
	}
	return best.id, found
}

// Within returns every node no farther than radius from p, ordered by id.
func (ix *NodeIndex) Within(p orb.Point, radius float64) []domain.NodeID {
	if ix == nil {
		return nil
	}
	es := within(ix.root, p, radius, ix.hidden, nil)
	ids := make([]domain.NodeID, 0, len(es))
	for _, e := range es {
		ids = append(ids, e.id)
	}
	for id, q := range ix.overlay {
		if dist(p, q) <= radius {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Insert adds a node created during the pass.
func (ix *NodeIndex) Insert(n *models.Node) {
	if ix == nil || n == nil {
		return
	}
	delete(ix.removed, n.ID)
	ix.overlay[n.ID] = n.Point
	ix.live[n.ID] = struct{}{}
}

// Move re-indexes a relocated node.
func (ix *NodeIndex) Move(n *models.Node) {
	ix.Insert(n)
}

// Remove hides a node deleted during the pass.
func (ix *NodeIndex) Remove(id domain.NodeID) {
	if ix == nil {
		return
	}
	ix.removed[id] = struct{}{}
	delete(ix.overlay, id)
	delete(ix.live, id)
}

// Len is the number of live nodes.
func (ix *NodeIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.live)
}
