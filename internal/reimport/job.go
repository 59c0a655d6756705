// Package reimport merges a periodic import of the base network source into
// the persisted graph.
//
// A run cuts the extent into longitude strips and processes them one after
// another, each inside its own transaction:
//
//	FETCH -> MAP -> MATCH_OR_CREATE -> TOPOLOGY_UPDATE -> COMMIT
//
// A failing partition is rolled back and flags the run as fatal; the next
// partition still runs. Only an unreachable source aborts the whole run.
// After the partitions, vanished features are removed and the touched region
// gets a connectivity sweep and defragmentation.
package reimport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"basenet/internal/network/defrag"
	"basenet/internal/network/events"
	"basenet/internal/network/index"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/internal/network/runstats"
	"basenet/internal/network/service"
	"basenet/internal/network/topology"
	"basenet/internal/network/vernetzung"
	"basenet/internal/platform/metrics"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/platform/sentinel"
)

var tracer = otel.Tracer("basenet/reimport")

// Stage names one step of the partition pipeline, used in logs.
type Stage string

const (
	StageFetch         Stage = "FETCH"
	StageMap           Stage = "MAP"
	StageMatchOrCreate Stage = "MATCH_OR_CREATE"
	StageTopology      Stage = "TOPOLOGY_UPDATE"
	StageCommit        Stage = "COMMIT"
)

// ErrAborted marks a run stopped by infrastructure failure or cancellation.
var ErrAborted = errors.New("reimport run aborted")

// Config holds the partitioning of a run.
type Config struct {
	Extent       orb.Bound
	Partitions   int
	BorderMargin float64
	LockTTL      time.Duration
}

// Job is the reimport orchestrator.
type Job struct {
	cfg    Config
	parts  []Partition
	store  ports.Tx
	source ImportSource
	mapper AttributeMapper

	creation *service.CreationService
	update   *service.UpdateService
	sweep    *vernetzung.Service
	defrag   *defrag.Job

	deps     DependencyChecker
	locker   Locker
	protocol protocol.Recorder
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Job)

func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) {
		j.metrics = m
	}
}

func WithProtocol(r protocol.Recorder) Option {
	return func(j *Job) {
		j.protocol = r
	}
}

func WithDependencyChecker(d DependencyChecker) Option {
	return func(j *Job) {
		j.deps = d
	}
}

func WithLocker(l Locker) Option {
	return func(j *Job) {
		j.locker = l
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(j *Job) {
		j.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		j.now = now
	}
}

// New wires a job. The creation and update services are built on exec.
func New(
	cfg Config,
	store ports.Tx,
	source ImportSource,
	mapper AttributeMapper,
	exec *topology.Executor,
	sweep *vernetzung.Service,
	defragJob *defrag.Job,
	opts ...Option,
) (*Job, error) {
	parts, err := Strips(cfg.Extent, cfg.Partitions)
	if err != nil {
		return nil, err
	}
	if cfg.BorderMargin < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "border margin must not be negative")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Hour
	}
	j := &Job{
		cfg:      cfg,
		parts:    parts,
		store:    store,
		source:   source,
		mapper:   mapper,
		sweep:    sweep,
		defrag:   defragJob,
		deps:     noDependents{},
		locker:   NewMemoryLocker(),
		protocol: protocol.Discard{},
		tracer:   tracer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.metrics != nil {
		j.protocol = countingRecorder{next: j.protocol, metrics: j.metrics}
	}
	j.creation = service.NewCreationService(exec, service.WithLogger(j.logger))
	j.update = service.NewUpdateService(exec, service.WithLogger(j.logger))
	return j, nil
}

type noDependents struct{}

func (noDependents) HasDependents(context.Context, domain.EdgeID) (bool, error) { return false, nil }

// Run executes one full reimport. The report is returned on every path; when
// err wraps ErrAborted its counts are not authoritative.
func (j *Job) Run(ctx context.Context) (runstats.Report, error) {
	runID := uuid.New()
	started := j.now()
	stats := runstats.New()
	logger := j.logger.With("run_id", runID.String())

	lease, err := j.locker.Acquire(ctx, j.lockKey(), j.cfg.LockTTL)
	if err != nil {
		return stats.Report(runID, started, j.now(), true), fmt.Errorf("%w: %w", ErrAborted, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.WarnContext(ctx, "run_lock_release_failed", "error", err)
		}
	}()

	logger.InfoContext(ctx, "reimport_started", "partitions", len(j.parts))

	seen := make(map[domain.FeatureID]struct{})
	succeeded := make([]bool, len(j.parts))
	for _, part := range j.parts {
		if err := ctx.Err(); err != nil {
			return j.finish(ctx, logger, stats, runID, started, fmt.Errorf("%w: %w", ErrAborted, err))
		}
		err := j.runPartition(ctx, logger, part, stats, seen)
		switch {
		case err == nil:
			succeeded[part.Index] = true
		case isInfrastructure(err):
			return j.finish(ctx, logger, stats, runID, started, fmt.Errorf("%w: partition %d: %w", ErrAborted, part.Index, err))
		default:
			j.partitionFailed(ctx, logger, stats, part, err)
		}
	}

	if err := j.removeVanished(ctx, logger, stats, seen, succeeded); err != nil {
		if isInfrastructure(err) {
			return j.finish(ctx, logger, stats, runID, started, fmt.Errorf("%w: vanished cleanup: %w", ErrAborted, err))
		}
		stats.MarkFatal()
		logger.ErrorContext(ctx, "vanished_cleanup_failed", "error", err)
	}

	if err := j.correct(ctx, logger, stats); err != nil {
		if isInfrastructure(err) {
			return j.finish(ctx, logger, stats, runID, started, fmt.Errorf("%w: corrective pass: %w", ErrAborted, err))
		}
		stats.MarkFatal()
		logger.ErrorContext(ctx, "corrective_pass_failed", "error", err)
	}

	return j.finish(ctx, logger, stats, runID, started, nil)
}

func (j *Job) lockKey() string {
	b := j.cfg.Extent
	return fmt.Sprintf("reimport:%g:%g:%g:%g", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}

func (j *Job) finish(ctx context.Context, logger *slog.Logger, stats *runstats.Accumulator, runID uuid.UUID, started time.Time, err error) (runstats.Report, error) {
	report := stats.Report(runID, started, j.now(), err != nil)
	j.observe(report)
	if err != nil {
		logger.ErrorContext(ctx, "reimport_aborted", "error", err, "report", report)
		return report, err
	}
	logger.InfoContext(ctx, "reimport_finished", "report", report)
	return report, nil
}

func (j *Job) observe(r runstats.Report) {
	if j.metrics == nil {
		return
	}
	c := r.Counts
	j.metrics.EdgesAdded.Add(float64(c.EdgesAdded))
	j.metrics.EdgesUpdated.Add(float64(c.EdgesUpdated))
	j.metrics.EdgesDeleted.Add(float64(c.EdgesDeleted))
	j.metrics.Splits.Add(float64(c.Splits))
	j.metrics.SearchIterations.Add(float64(c.SearchIterations))
	if r.Fatal || r.Aborted {
		j.metrics.LastRunSuccess.Set(0)
	} else {
		j.metrics.LastRunSuccess.Set(1)
	}
}

// runPartition processes one strip in one transaction. Statistics reach the
// run only when the transaction commits; fetched features count as seen
// either way.
func (j *Job) runPartition(ctx context.Context, logger *slog.Logger, part Partition, stats *runstats.Accumulator, seen map[domain.FeatureID]struct{}) (err error) {
	ctx, span := j.tracer.Start(ctx, "reimport.partition",
		trace.WithAttributes(attribute.Int("partition.index", part.Index)),
	)
	started := j.now()
	defer func() {
		if j.metrics != nil {
			j.metrics.ObservePartition(j.now().Sub(started), err != nil)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	logger = logger.With("partition", part.Index)

	logger.DebugContext(ctx, "stage", "stage", StageFetch)
	raw, err := j.source.Fetch(ctx, part.Bound)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "fetch features")
	}
	features := j.owned(part, raw, seen)
	for _, f := range features {
		seen[f.ID] = struct{}{}
	}
	span.SetAttributes(attribute.Int("partition.features", len(features)))

	// Once fetched, the partition runs to completion.
	ctx = context.WithoutCancel(ctx)
	child := stats.Child()
	err = j.store.RunInTx(ctx, func(tx ports.Store) error {
		sess := &ports.Session{
			Store:    tx,
			Index:    index.Load(ctx, tx, part.Bound, j.cfg.BorderMargin, logger),
			Stats:    child,
			Protocol: j.protocol,
		}
		for _, f := range features {
			child.FeaturesRead++
			if err := j.processFeature(ctx, logger, sess, f); err != nil {
				return fmt.Errorf("feature %s: %w", f.ID, err)
			}
		}
		logger.DebugContext(ctx, "stage", "stage", StageCommit)
		return nil
	})
	if err != nil {
		return err
	}

	child.PartitionsProcessed++
	stats.Merge(child)
	logger.InfoContext(ctx, "partition_committed",
		"features", len(features),
		"edges_added", child.EdgesAdded,
		"edges_updated", child.EdgesUpdated,
		"splits", child.Splits,
	)
	return nil
}

// owned keeps the features whose start point lies in part, dropping
// duplicates and features already handled by an earlier partition.
func (j *Job) owned(part Partition, raw []RawFeature, seen map[domain.FeatureID]struct{}) []RawFeature {
	out := make([]RawFeature, 0, len(raw))
	dup := make(map[domain.FeatureID]struct{}, len(raw))
	for _, f := range raw {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		if _, ok := dup[f.ID]; ok {
			continue
		}
		if len(f.Geometry) > 0 && Owner(j.parts, f.Geometry[0]) != part.Index {
			continue
		}
		dup[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}

// processFeature runs MAP and MATCH_OR_CREATE for one feature. Feature level
// problems are recorded and swallowed; anything else fails the partition.
func (j *Job) processFeature(ctx context.Context, logger *slog.Logger, sess *ports.Session, raw RawFeature) error {
	logger = logger.With("feature_id", raw.ID)

	logger.DebugContext(ctx, "stage", "stage", StageMap)
	attrs, err := j.mapper.Map(raw)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeUnmappable) {
			return err
		}
		sess.Stats.FeaturesUnmappable++
		var at orb.Point
		if len(raw.Geometry) > 0 {
			at = raw.Geometry[0]
		}
		a := protocol.New(protocol.KindUnmappable, at, err.Error())
		a.FeatureID = raw.ID
		sess.Record(ctx, a)
		logger.WarnContext(ctx, "feature_unmappable", "error", err)
		return nil
	}
	f := service.Feature{ID: raw.ID, Geometry: raw.Geometry, Attributes: attrs}

	logger.DebugContext(ctx, "stage", "stage", StageMatchOrCreate)
	mapping, err := sess.Store.FindMapping(ctx, raw.ID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return featureLevel(j.create(ctx, sess, f))
	case err != nil:
		return fmt.Errorf("find mapping: %w", err)
	}

	logger.DebugContext(ctx, "stage", "stage", StageTopology)
	res, err := j.update.Update(ctx, sess, f, mapping)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		logger.InfoContext(ctx, "mapped_edges_vanished")
		return featureLevel(j.create(ctx, sess, f))
	}
	if err != nil {
		return featureLevel(err)
	}
	if res.Flagged {
		logger.WarnContext(ctx, "topology_change_flagged", "outcomes", res.Outcomes)
	}
	return nil
}

func (j *Job) create(ctx context.Context, sess *ports.Session, f service.Feature) error {
	_, err := j.creation.Create(ctx, sess, f)
	return err
}

// featureLevel swallows errors that concern only the feature at hand.
func featureLevel(err error) error {
	if dErrors.HasCode(err, dErrors.CodeDegenerateGeometry) ||
		dErrors.HasCode(err, dErrors.CodeAmbiguousTopology) ||
		dErrors.HasCode(err, dErrors.CodeUnmappable) {
		return nil
	}
	return err
}

// isInfrastructure reports failures that make the rest of the run pointless.
func isInfrastructure(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnavailable) ||
		errors.Is(err, sentinel.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (j *Job) partitionFailed(ctx context.Context, logger *slog.Logger, stats *runstats.Accumulator, part Partition, err error) {
	stats.MarkFatal()
	stats.PartitionsFailed++
	a := protocol.New(protocol.KindPartitionFailed, part.Bound.Center(), err.Error())
	j.protocol.Record(ctx, a)
	logger.ErrorContext(ctx, "partition_failed", "partition", part.Index, "error", err)
}

// removeVanished deletes or retires the edges of features the source no
// longer delivers, restricted to edges owned by strips that committed.
func (j *Job) removeVanished(ctx context.Context, logger *slog.Logger, stats *runstats.Accumulator, seen map[domain.FeatureID]struct{}, succeeded []bool) error {
	child := stats.Child()
	err := j.store.RunInTx(ctx, func(tx ports.Store) error {
		mappings, err := tx.ListMappings(ctx)
		if err != nil {
			return fmt.Errorf("list mappings: %w", err)
		}
		for _, m := range mappings {
			if _, ok := seen[m.FeatureID]; ok {
				continue
			}
			if err := j.vanish(ctx, tx, child, m, succeeded); err != nil {
				return fmt.Errorf("feature %s: %w", m.FeatureID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	stats.Merge(child)
	if child.FeaturesVanished > 0 {
		logger.InfoContext(ctx, "vanished_features_removed",
			"features", child.FeaturesVanished,
			"edges_deleted", child.EdgesDeleted,
			"edges_retired", child.EdgesRetired,
		)
	}
	return nil
}

func (j *Job) vanish(ctx context.Context, tx ports.Store, stats *runstats.Accumulator, m *models.FeatureMapping, succeeded []bool) error {
	edges := make([]*models.Edge, 0, len(m.Edges))
	for _, id := range m.Edges {
		e, err := tx.FindEdge(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("find edge %d: %w", id, err)
		}
		edges = append(edges, e)
	}
	if len(edges) == 0 {
		return tx.DeleteMapping(ctx, m.FeatureID)
	}
	if !succeeded[Owner(j.parts, edges[0].StartPoint())] {
		return nil
	}

	keep := false
	changed := false
	for _, e := range edges {
		shared, err := sharedWithOthers(ctx, tx, e.ID, m.FeatureID)
		if err != nil {
			return err
		}
		if shared {
			continue
		}
		dependents, err := j.deps.HasDependents(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("check dependents of edge %d: %w", e.ID, err)
		}
		if dependents {
			keep = true
			if !e.BaseNetwork {
				continue
			}
			e.BaseNetwork = false
			if err := tx.UpdateEdge(ctx, e); err != nil {
				return fmt.Errorf("retire edge %d: %w", e.ID, err)
			}
			stats.EdgesRetired++
			stats.TouchEdge(e.ID, e.Geometry)
			changed = true
			continue
		}
		if err := tx.DeleteEdge(ctx, e.ID); err != nil {
			return fmt.Errorf("delete edge %d: %w", e.ID, err)
		}
		if err := tx.AppendEvent(ctx, events.EdgeDeleted(e.ID, e.Geometry, j.now())); err != nil {
			return err
		}
		stats.EdgesDeleted++
		stats.Extend(e.Geometry.Bound())
		changed = true
	}
	if changed {
		stats.FeaturesVanished++
	}
	if keep {
		return nil
	}
	return tx.DeleteMapping(ctx, m.FeatureID)
}

func sharedWithOthers(ctx context.Context, tx ports.Store, edge domain.EdgeID, feature domain.FeatureID) (bool, error) {
	owners, err := tx.MappingsForEdge(ctx, edge)
	if err != nil {
		return false, fmt.Errorf("mappings for edge %d: %w", edge, err)
	}
	for _, o := range owners {
		if o.FeatureID != feature {
			return true, nil
		}
	}
	return false, nil
}

// correct runs the connectivity sweep and defragmentation over what the run
// touched.
func (j *Job) correct(ctx context.Context, logger *slog.Logger, stats *runstats.Accumulator) error {
	region, ok := stats.Region()
	if !ok {
		logger.InfoContext(ctx, "corrective_pass_skipped", "reason", "nothing touched")
		return nil
	}
	region = region.Pad(j.sweepPad())
	touched := stats.TouchedEdges()

	child := stats.Child()
	err := j.store.RunInTx(ctx, func(tx ports.Store) error {
		sess := &ports.Session{
			Store:    tx,
			Index:    index.Load(ctx, tx, region, j.cfg.BorderMargin, logger),
			Stats:    child,
			Protocol: j.protocol,
		}
		if _, err := j.sweep.Sweep(ctx, sess, region); err != nil {
			return fmt.Errorf("vernetzung: %w", err)
		}
		if _, err := j.defrag.Run(ctx, sess, touched); err != nil {
			return fmt.Errorf("defragmentation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	stats.Merge(child)
	return nil
}

// sweepPad widens the region so nodes of deleted edges lying exactly on the
// region border are included.
func (j *Job) sweepPad() float64 {
	return max(j.cfg.BorderMargin, 1e-9)
}

// countingRecorder counts protocol entries before forwarding them.
type countingRecorder struct {
	next    protocol.Recorder
	metrics *metrics.Metrics
}

func (c countingRecorder) Record(ctx context.Context, a protocol.Anomaly) {
	c.metrics.IncrementAnomaly(string(a.Kind))
	c.next.Record(ctx, a)
}
