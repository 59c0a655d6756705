package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"basenet/internal/network/events"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/platform/sentinel"
)

type idSet[K comparable] map[K]struct{}

func (s idSet[K]) clone() idSet[K] {
	out := make(idSet[K], len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// state is one committed version of the graph. Stored entities are never
// mutated in place, so a clone only copies maps.
type state struct {
	nodes     map[domain.NodeID]*models.Node
	edges     map[domain.EdgeID]*models.Edge
	byNode    map[domain.NodeID]idSet[domain.EdgeID]
	mappings  map[domain.FeatureID]*models.FeatureMapping
	byEdge    map[domain.EdgeID]idSet[domain.FeatureID]
	outbox    []events.Event
	published idSet[uuid.UUID]
	nextNode  domain.NodeID
	nextEdge  domain.EdgeID
}

func newState() *state {
	return &state{
		nodes:     make(map[domain.NodeID]*models.Node),
		edges:     make(map[domain.EdgeID]*models.Edge),
		byNode:    make(map[domain.NodeID]idSet[domain.EdgeID]),
		mappings:  make(map[domain.FeatureID]*models.FeatureMapping),
		byEdge:    make(map[domain.EdgeID]idSet[domain.FeatureID]),
		published: make(idSet[uuid.UUID]),
	}
}

func (s *state) clone() *state {
	out := &state{
		nodes:     make(map[domain.NodeID]*models.Node, len(s.nodes)),
		edges:     make(map[domain.EdgeID]*models.Edge, len(s.edges)),
		byNode:    make(map[domain.NodeID]idSet[domain.EdgeID], len(s.byNode)),
		mappings:  make(map[domain.FeatureID]*models.FeatureMapping, len(s.mappings)),
		byEdge:    make(map[domain.EdgeID]idSet[domain.FeatureID], len(s.byEdge)),
		outbox:    slices.Clone(s.outbox),
		published: s.published.clone(),
		nextNode:  s.nextNode,
		nextEdge:  s.nextEdge,
	}
	for k, v := range s.nodes {
		out.nodes[k] = v
	}
	for k, v := range s.edges {
		out.edges[k] = v
	}
	for k, v := range s.byNode {
		out.byNode[k] = v.clone()
	}
	for k, v := range s.mappings {
		out.mappings[k] = v
	}
	for k, v := range s.byEdge {
		out.byEdge[k] = v.clone()
	}
	return out
}

// InMemory is a graph store for tests and dry runs. RunInTx works on a copy
// of the graph and swaps it in on success, so a failed partition leaves no
// trace. Calls outside RunInTx commit immediately.
type InMemory struct {
	mu sync.Mutex
	st *state
}

func NewInMemory() *InMemory {
	return &InMemory{st: newState()}
}

func (m *InMemory) RunInTx(ctx context.Context, fn func(store ports.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// autocommit runs fn against the committed state under the lock.
func (m *InMemory) autocommit(fn func(t *memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{st: m.st})
}

func (m *InMemory) CreateNode(ctx context.Context, node *models.Node) error {
	return m.autocommit(func(t *memTx) error { return t.CreateNode(ctx, node) })
}

func (m *InMemory) FindNode(ctx context.Context, id domain.NodeID) (n *models.Node, err error) {
	err = m.autocommit(func(t *memTx) error { n, err = t.FindNode(ctx, id); return err })
	return n, err
}

func (m *InMemory) UpdateNode(ctx context.Context, node *models.Node) error {
	return m.autocommit(func(t *memTx) error { return t.UpdateNode(ctx, node) })
}

func (m *InMemory) DeleteNode(ctx context.Context, id domain.NodeID) error {
	return m.autocommit(func(t *memTx) error { return t.DeleteNode(ctx, id) })
}

func (m *InMemory) NodesInBound(ctx context.Context, bound orb.Bound) (out []*models.Node, err error) {
	err = m.autocommit(func(t *memTx) error { out, err = t.NodesInBound(ctx, bound); return err })
	return out, err
}

func (m *InMemory) CreateEdge(ctx context.Context, edge *models.Edge) error {
	return m.autocommit(func(t *memTx) error { return t.CreateEdge(ctx, edge) })
}

func (m *InMemory) FindEdge(ctx context.Context, id domain.EdgeID) (e *models.Edge, err error) {
	err = m.autocommit(func(t *memTx) error { e, err = t.FindEdge(ctx, id); return err })
	return e, err
}

func (m *InMemory) UpdateEdge(ctx context.Context, edge *models.Edge) error {
	return m.autocommit(func(t *memTx) error { return t.UpdateEdge(ctx, edge) })
}

func (m *InMemory) DeleteEdge(ctx context.Context, id domain.EdgeID) error {
	return m.autocommit(func(t *memTx) error { return t.DeleteEdge(ctx, id) })
}

func (m *InMemory) EdgesInBound(ctx context.Context, bound orb.Bound) (out []*models.Edge, err error) {
	err = m.autocommit(func(t *memTx) error { out, err = t.EdgesInBound(ctx, bound); return err })
	return out, err
}

func (m *InMemory) EdgesAtNode(ctx context.Context, node domain.NodeID) (out []*models.Edge, err error) {
	err = m.autocommit(func(t *memTx) error { out, err = t.EdgesAtNode(ctx, node); return err })
	return out, err
}

func (m *InMemory) FindMapping(ctx context.Context, feature domain.FeatureID) (fm *models.FeatureMapping, err error) {
	err = m.autocommit(func(t *memTx) error { fm, err = t.FindMapping(ctx, feature); return err })
	return fm, err
}

func (m *InMemory) SaveMapping(ctx context.Context, mapping *models.FeatureMapping) error {
	return m.autocommit(func(t *memTx) error { return t.SaveMapping(ctx, mapping) })
}

func (m *InMemory) DeleteMapping(ctx context.Context, feature domain.FeatureID) error {
	return m.autocommit(func(t *memTx) error { return t.DeleteMapping(ctx, feature) })
}

func (m *InMemory) MappingsForEdge(ctx context.Context, edge domain.EdgeID) (out []*models.FeatureMapping, err error) {
	err = m.autocommit(func(t *memTx) error { out, err = t.MappingsForEdge(ctx, edge); return err })
	return out, err
}

func (m *InMemory) ListMappings(ctx context.Context) (out []*models.FeatureMapping, err error) {
	err = m.autocommit(func(t *memTx) error { out, err = t.ListMappings(ctx); return err })
	return out, err
}

func (m *InMemory) AppendEvent(ctx context.Context, event events.Event) error {
	return m.autocommit(func(t *memTx) error { return t.AppendEvent(ctx, event) })
}

// Pending implements events.Outbox.
func (m *InMemory) Pending(_ context.Context, limit int) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.st.outbox {
		if _, done := m.st.published[e.ID]; done {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkPublished implements events.Outbox.
func (m *InMemory) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.st.published[id] = struct{}{}
	}
	return nil
}

// Events returns every committed event in order.
func (m *InMemory) Events() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.outbox)
}

// Counts reports the number of stored nodes and edges.
func (m *InMemory) Counts() (nodes, edges int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.nodes), len(m.st.edges)
}

// memTx implements ports.Store on one state. It takes no locks.
type memTx struct {
	st *state
}

func (t *memTx) CreateNode(_ context.Context, node *models.Node) error {
	t.st.nextNode++
	node.ID = t.st.nextNode
	if node.Form == "" {
		node.Form = models.NodeFormUnknown
	}
	t.st.nodes[node.ID] = node.Clone()
	return nil
}

func (t *memTx) FindNode(_ context.Context, id domain.NodeID) (*models.Node, error) {
	n, ok := t.st.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, sentinel.ErrNotFound)
	}
	return n.Clone(), nil
}

func (t *memTx) UpdateNode(_ context.Context, node *models.Node) error {
	if _, ok := t.st.nodes[node.ID]; !ok {
		return fmt.Errorf("node %d: %w", node.ID, sentinel.ErrNotFound)
	}
	t.st.nodes[node.ID] = node.Clone()
	return nil
}

func (t *memTx) DeleteNode(_ context.Context, id domain.NodeID) error {
	if _, ok := t.st.nodes[id]; !ok {
		return fmt.Errorf("node %d: %w", id, sentinel.ErrNotFound)
	}
	if len(t.st.byNode[id]) > 0 {
		return fmt.Errorf("node %d still has edges: %w", id, sentinel.ErrInvalidState)
	}
	delete(t.st.nodes, id)
	delete(t.st.byNode, id)
	return nil
}

func (t *memTx) NodesInBound(_ context.Context, bound orb.Bound) ([]*models.Node, error) {
	var out []*models.Node
	for _, n := range t.st.nodes {
		if bound.Contains(n.Point) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) checkNodes(edge *models.Edge) error {
	for _, id := range []domain.NodeID{edge.StartNode, edge.EndNode} {
		if _, ok := t.st.nodes[id]; !ok {
			return fmt.Errorf("edge references node %d: %w", id, sentinel.ErrNotFound)
		}
	}
	return nil
}

func (t *memTx) link(edge *models.Edge) {
	for _, id := range []domain.NodeID{edge.StartNode, edge.EndNode} {
		if t.st.byNode[id] == nil {
			t.st.byNode[id] = make(idSet[domain.EdgeID])
		}
		t.st.byNode[id][edge.ID] = struct{}{}
	}
}

func (t *memTx) unlink(edge *models.Edge) {
	for _, id := range []domain.NodeID{edge.StartNode, edge.EndNode} {
		delete(t.st.byNode[id], edge.ID)
	}
}

func (t *memTx) CreateEdge(_ context.Context, edge *models.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	if err := t.checkNodes(edge); err != nil {
		return err
	}
	t.st.nextEdge++
	edge.ID = t.st.nextEdge
	t.st.edges[edge.ID] = edge.Clone()
	t.link(edge)
	return nil
}

func (t *memTx) FindEdge(_ context.Context, id domain.EdgeID) (*models.Edge, error) {
	e, ok := t.st.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %d: %w", id, sentinel.ErrNotFound)
	}
	return e.Clone(), nil
}

func (t *memTx) UpdateEdge(_ context.Context, edge *models.Edge) error {
	old, ok := t.st.edges[edge.ID]
	if !ok {
		return fmt.Errorf("edge %d: %w", edge.ID, sentinel.ErrNotFound)
	}
	if err := edge.Validate(); err != nil {
		return err
	}
	if err := t.checkNodes(edge); err != nil {
		return err
	}
	t.unlink(old)
	t.st.edges[edge.ID] = edge.Clone()
	t.link(edge)
	return nil
}

func (t *memTx) DeleteEdge(_ context.Context, id domain.EdgeID) error {
	old, ok := t.st.edges[id]
	if !ok {
		return fmt.Errorf("edge %d: %w", id, sentinel.ErrNotFound)
	}
	t.unlink(old)
	delete(t.st.edges, id)
	return nil
}

func (t *memTx) EdgesInBound(_ context.Context, bound orb.Bound) ([]*models.Edge, error) {
	var out []*models.Edge
	for _, e := range t.st.edges {
		if e.Geometry.Bound().Intersects(bound) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) EdgesAtNode(_ context.Context, node domain.NodeID) ([]*models.Edge, error) {
	out := make([]*models.Edge, 0, len(t.st.byNode[node]))
	for id := range t.st.byNode[node] {
		out = append(out, t.st.edges[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) FindMapping(_ context.Context, feature domain.FeatureID) (*models.FeatureMapping, error) {
	fm, ok := t.st.mappings[feature]
	if !ok {
		return nil, fmt.Errorf("mapping %s: %w", feature, sentinel.ErrNotFound)
	}
	return fm.Clone(), nil
}

func (t *memTx) SaveMapping(_ context.Context, mapping *models.FeatureMapping) error {
	if old, ok := t.st.mappings[mapping.FeatureID]; ok {
		for _, e := range old.Edges {
			delete(t.st.byEdge[e], mapping.FeatureID)
		}
	}
	t.st.mappings[mapping.FeatureID] = mapping.Clone()
	for _, e := range mapping.Edges {
		if t.st.byEdge[e] == nil {
			t.st.byEdge[e] = make(idSet[domain.FeatureID])
		}
		t.st.byEdge[e][mapping.FeatureID] = struct{}{}
	}
	return nil
}

func (t *memTx) DeleteMapping(_ context.Context, feature domain.FeatureID) error {
	old, ok := t.st.mappings[feature]
	if !ok {
		return fmt.Errorf("mapping %s: %w", feature, sentinel.ErrNotFound)
	}
	for _, e := range old.Edges {
		delete(t.st.byEdge[e], feature)
	}
	delete(t.st.mappings, feature)
	return nil
}

func (t *memTx) MappingsForEdge(_ context.Context, edge domain.EdgeID) ([]*models.FeatureMapping, error) {
	var out []*models.FeatureMapping
	for f := range t.st.byEdge[edge] {
		out = append(out, t.st.mappings[f].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureID < out[j].FeatureID })
	return out, nil
}

func (t *memTx) ListMappings(_ context.Context) ([]*models.FeatureMapping, error) {
	out := make([]*models.FeatureMapping, 0, len(t.st.mappings))
	for _, fm := range t.st.mappings {
		out = append(out, fm.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureID < out[j].FeatureID })
	return out, nil
}

func (t *memTx) AppendEvent(_ context.Context, event events.Event) error {
	t.st.outbox = append(t.st.outbox, event)
	return nil
}
