// Package source provides import sources reading GeoJSON feature
// collections from a file or an HTTP endpoint.
package source

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"basenet/internal/reimport"
	"basenet/pkg/domain"
)

// DefaultIDProperty is consulted when a feature carries no top-level id.
const DefaultIDProperty = "id"

// Decode converts a feature collection into raw features. Features without
// an id or without line geometry are skipped. A MultiLineString becomes one
// feature per part, suffixed "/<n>" when it has more than one.
func Decode(fc *geojson.FeatureCollection, idProperty string, logger *slog.Logger) []reimport.RawFeature {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]reimport.RawFeature, 0, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := featureID(f, idProperty)
		if !ok {
			logger.Warn("feature_skipped", "index", i, "reason", "no id")
			continue
		}
		props := map[string]any(f.Properties)
		switch g := f.Geometry.(type) {
		case orb.LineString:
			out = append(out, reimport.RawFeature{ID: id, Geometry: g, Properties: props})
		case orb.MultiLineString:
			if len(g) == 1 {
				out = append(out, reimport.RawFeature{ID: id, Geometry: g[0], Properties: props})
				continue
			}
			for n, part := range g {
				out = append(out, reimport.RawFeature{
					ID:         domain.FeatureID(fmt.Sprintf("%s/%d", id, n)),
					Geometry:   part,
					Properties: props,
				})
			}
		default:
			logger.Warn("feature_skipped", "feature_id", id, "reason", "not a line", "geometry", geometryType(f.Geometry))
		}
	}
	return out
}

func featureID(f *geojson.Feature, idProperty string) (domain.FeatureID, bool) {
	if s, ok := idString(f.ID); ok {
		return domain.FeatureID(s), true
	}
	if idProperty == "" {
		idProperty = DefaultIDProperty
	}
	if s, ok := idString(f.Properties[idProperty]); ok {
		return domain.FeatureID(s), true
	}
	return "", false
}

func idString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	}
	return "", false
}

func geometryType(g orb.Geometry) string {
	if g == nil {
		return "none"
	}
	return g.GeoJSONType()
}

// filter keeps features whose bound intersects envelope.
func filter(features []reimport.RawFeature, envelope orb.Bound) []reimport.RawFeature {
	out := make([]reimport.RawFeature, 0, len(features))
	for _, f := range features {
		if len(f.Geometry) == 0 || f.Geometry.Bound().Intersects(envelope) {
			out = append(out, f)
		}
	}
	return out
}
