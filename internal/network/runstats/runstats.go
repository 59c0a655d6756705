// Package runstats accumulates the statistics of one reimport run.
//
// A run owns one Accumulator. Each partition works on a Child which is merged
// back only when the partition commits, so a rolled back partition leaves no
// counts behind. Report freezes the accumulator into an immutable value.
package runstats

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"basenet/pkg/domain"
)

// Counts are the additive run counters.
type Counts struct {
	FeaturesRead       int
	FeaturesUnmappable int
	FeaturesDegenerate int
	FeaturesVanished   int

	EdgesAdded   int
	EdgesUpdated int
	EdgesDeleted int
	// EdgesRetired counts vanished edges kept because of dependents.
	EdgesRetired int
	NodesAdded   int
	NodesDeleted int

	Splits           int
	SearchIterations int
	Reconnects       int
	Relocations      int
	NoEndpointMatch  int
	Ambiguous        int

	SegmentsMerged int
	GroupsHealed   int

	PartitionsProcessed int
	PartitionsFailed    int
}

func (c *Counts) add(o Counts) {
	c.FeaturesRead += o.FeaturesRead
	c.FeaturesUnmappable += o.FeaturesUnmappable
	c.FeaturesDegenerate += o.FeaturesDegenerate
	c.FeaturesVanished += o.FeaturesVanished
	c.EdgesAdded += o.EdgesAdded
	c.EdgesUpdated += o.EdgesUpdated
	c.EdgesDeleted += o.EdgesDeleted
	c.EdgesRetired += o.EdgesRetired
	c.NodesAdded += o.NodesAdded
	c.NodesDeleted += o.NodesDeleted
	c.Splits += o.Splits
	c.SearchIterations += o.SearchIterations
	c.Reconnects += o.Reconnects
	c.Relocations += o.Relocations
	c.NoEndpointMatch += o.NoEndpointMatch
	c.Ambiguous += o.Ambiguous
	c.SegmentsMerged += o.SegmentsMerged
	c.GroupsHealed += o.GroupsHealed
	c.PartitionsProcessed += o.PartitionsProcessed
	c.PartitionsFailed += o.PartitionsFailed
}

// Changed reports whether any graph mutation was counted.
func (c Counts) Changed() bool {
	return c.EdgesAdded+c.EdgesUpdated+c.EdgesDeleted+c.EdgesRetired+
		c.NodesAdded+c.NodesDeleted+c.SegmentsMerged+c.GroupsHealed > 0
}

// Accumulator collects counters and the set of touched graph elements.
// Counters are plain fields; callers on one partition write them directly.
type Accumulator struct {
	Counts

	mu        sync.Mutex
	fatal     bool
	edges     map[domain.EdgeID]struct{}
	nodes     map[domain.NodeID]struct{}
	region    orb.Bound
	hasRegion bool
}

func New() *Accumulator {
	return &Accumulator{
		edges: make(map[domain.EdgeID]struct{}),
		nodes: make(map[domain.NodeID]struct{}),
	}
}

// Child returns an empty accumulator for one partition.
func (a *Accumulator) Child() *Accumulator {
	return New()
}

// Merge adds c into a. c must not be used afterwards.
func (a *Accumulator) Merge(c *Accumulator) {
	if c == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Counts.add(c.Counts)
	a.fatal = a.fatal || c.fatal
	for id := range c.edges {
		a.edges[id] = struct{}{}
	}
	for id := range c.nodes {
		a.nodes[id] = struct{}{}
	}
	if c.hasRegion {
		a.extend(c.region)
	}
}

func (a *Accumulator) extend(b orb.Bound) {
	if !a.hasRegion {
		a.region, a.hasRegion = b, true
		return
	}
	a.region = a.region.Union(b)
}

// TouchEdge marks an edge as changed in this run.
func (a *Accumulator) TouchEdge(id domain.EdgeID, geometry orb.LineString) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edges[id] = struct{}{}
	if len(geometry) > 0 {
		a.extend(geometry.Bound())
	}
}

// TouchNode marks a node as changed in this run.
func (a *Accumulator) TouchNode(id domain.NodeID, p orb.Point) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodes[id] = struct{}{}
	a.extend(p.Bound())
}

// Extend grows the touched region without marking an element, for
// geometry that no longer exists.
func (a *Accumulator) Extend(b orb.Bound) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extend(b)
}

// TouchedEdges returns the changed edges in ascending order.
func (a *Accumulator) TouchedEdges() []domain.EdgeID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.EdgeID, 0, len(a.edges))
	for id := range a.edges {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// TouchedNodes returns the changed nodes in ascending order.
func (a *Accumulator) TouchedNodes() []domain.NodeID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.NodeID, 0, len(a.nodes))
	for id := range a.nodes {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Region is the bound of everything touched so far.
func (a *Accumulator) Region() (orb.Bound, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.region, a.hasRegion
}

// MarkFatal records that at least one partition failed.
func (a *Accumulator) MarkFatal() {
	a.mu.Lock()
	a.fatal = true
	a.mu.Unlock()
}

func (a *Accumulator) Fatal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// Report is the frozen statistics of one run.
type Report struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     Counts
	// Fatal is set when a partition was rolled back.
	Fatal bool
	// Aborted is set when infrastructure failure stopped the run. Counts are
	// then not authoritative.
	Aborted      bool
	TouchedEdges int
	TouchedNodes int
}

// Report freezes the accumulator.
func (a *Accumulator) Report(runID uuid.UUID, started, finished time.Time, aborted bool) Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Report{
		RunID:        runID,
		StartedAt:    started,
		FinishedAt:   finished,
		Counts:       a.Counts,
		Fatal:        a.fatal,
		Aborted:      aborted,
		TouchedEdges: len(a.edges),
		TouchedNodes: len(a.nodes),
	}
}

func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// LogValue implements slog.LogValuer.
func (r Report) LogValue() slog.Value {
	c := r.Counts
	return slog.GroupValue(
		slog.String("run_id", r.RunID.String()),
		slog.Duration("duration", r.Duration()),
		slog.Bool("fatal", r.Fatal),
		slog.Bool("aborted", r.Aborted),
		slog.Int("features_read", c.FeaturesRead),
		slog.Int("features_unmappable", c.FeaturesUnmappable),
		slog.Int("features_degenerate", c.FeaturesDegenerate),
		slog.Int("features_vanished", c.FeaturesVanished),
		slog.Int("edges_added", c.EdgesAdded),
		slog.Int("edges_updated", c.EdgesUpdated),
		slog.Int("edges_deleted", c.EdgesDeleted),
		slog.Int("edges_retired", c.EdgesRetired),
		slog.Int("nodes_added", c.NodesAdded),
		slog.Int("nodes_deleted", c.NodesDeleted),
		slog.Int("splits", c.Splits),
		slog.Int("split_search_iterations", c.SearchIterations),
		slog.Int("no_endpoint_match", c.NoEndpointMatch),
		slog.Int("ambiguous", c.Ambiguous),
		slog.Int("segments_merged", c.SegmentsMerged),
		slog.Int("partitions_failed", c.PartitionsFailed),
	)
}
