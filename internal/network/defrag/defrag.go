// Package defrag compacts the attribute groups of edges: adjacent equal
// segments are merged and segments shorter than the configured minimum are
// folded into their most similar neighbour. Groups that violate the
// coverage invariant are healed first.
package defrag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"basenet/internal/network/ports"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
	"basenet/pkg/platform/sentinel"
)

// Report summarizes one defragmentation pass.
type Report struct {
	Edges          int
	Changed        int
	Healed         int
	SegmentsMerged int
}

// Job runs defragmentation on a set of edges.
type Job struct {
	// minLength is in coordinate units; it becomes a fraction per edge.
	minLength float64
	logger    *slog.Logger
}

type Option func(*Job)

func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		j.logger = logger
	}
}

func New(minLength float64, opts ...Option) (*Job, error) {
	if minLength < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "minimum segment length must not be negative")
	}
	j := &Job{minLength: minLength, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Run defragments the given edges. Edges that no longer exist are skipped.
func (j *Job) Run(ctx context.Context, sess *ports.Session, ids []domain.EdgeID) (Report, error) {
	var r Report
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		e, err := sess.Store.FindEdge(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return r, fmt.Errorf("load edge %d: %w", id, err)
		}
		r.Edges++

		groups, healed := e.Groups.Heal()
		if healed {
			j.logger.WarnContext(ctx, "attribute_group_healed", "edge_id", e.ID)
			r.Healed++
		}
		minFraction := 0.0
		if length := e.Length(); length > 0 {
			minFraction = j.minLength / length
		}
		compact, merged := groups.Defragment(minFraction)
		if !healed && merged == 0 && compact.Equal(e.Groups) {
			continue
		}

		e.Groups = compact
		if err := sess.Store.UpdateEdge(ctx, e); err != nil {
			return r, fmt.Errorf("store defragmented edge %d: %w", e.ID, err)
		}
		r.Changed++
		r.SegmentsMerged += merged
		sess.Stats.SegmentsMerged += merged
		if healed {
			sess.Stats.GroupsHealed++
		}
	}
	j.logger.InfoContext(ctx, "defragmentation_done",
		"edges", r.Edges,
		"changed", r.Changed,
		"segments_merged", r.SegmentsMerged,
		"healed", r.Healed,
	)
	return r, nil
}

// RunRegion defragments every edge in region.
func (j *Job) RunRegion(ctx context.Context, sess *ports.Session, region orb.Bound) (Report, error) {
	edges, err := sess.Store.EdgesInBound(ctx, region)
	if err != nil {
		return Report{}, fmt.Errorf("edges in region: %w", err)
	}
	ids := make([]domain.EdgeID, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return j.Run(ctx, sess, ids)
}
