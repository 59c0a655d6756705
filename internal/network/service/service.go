// Package service holds the edge creation and edge update services that
// the reimport job drives for every mapped feature.
package service

import (
	"context"
	"log/slog"

	"github.com/paulmach/orb"

	"basenet/internal/network/geom"
	"basenet/internal/network/models"
	"basenet/internal/network/ports"
	"basenet/internal/network/protocol"
	"basenet/pkg/domain"
	dErrors "basenet/pkg/domain-errors"
)

// Feature is one import feature after attribute mapping.
type Feature struct {
	ID         domain.FeatureID
	Geometry   orb.LineString
	Attributes models.MappedAttributes
}

type options struct {
	logger *slog.Logger
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// rejectDegenerate records a feature whose geometry has no length.
func rejectDegenerate(ctx context.Context, sess *ports.Session, logger *slog.Logger, f Feature, detail string) error {
	var at orb.Point
	if len(f.Geometry) > 0 {
		at = f.Geometry[0]
	}
	a := protocol.New(protocol.KindDegenerateGeometry, at, detail)
	a.FeatureID = f.ID
	sess.Record(ctx, a)
	sess.Stats.FeaturesDegenerate++
	logger.WarnContext(ctx, "feature_rejected", "feature_id", f.ID, "reason", detail)
	return dErrors.Newf(dErrors.CodeDegenerateGeometry, "feature %s: %s", f.ID, detail)
}

func isDegenerate(f Feature) bool {
	return geom.IsDegenerate(f.Geometry)
}
