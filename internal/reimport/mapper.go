package reimport

import (
	"fmt"
	"strings"

	"basenet/internal/network/models"
	dErrors "basenet/pkg/domain-errors"
)

// PropertyMapper maps flat feature properties by key. Missing keys leave the
// dimension unprovided; present but unparsable values make the feature
// unmappable.
type PropertyMapper struct {
	Responsibility string
	Direction      string
	Speed          string
	WayForm        string
	StreetName     string
	StreetNumber   string
	Surface        string
	Lighting       string
}

// DefaultPropertyMapper uses snake_case property names.
func DefaultPropertyMapper() PropertyMapper {
	return PropertyMapper{
		Responsibility: "responsibility",
		Direction:      "direction",
		Speed:          "speed",
		WayForm:        "way_form",
		StreetName:     "street_name",
		StreetNumber:   "street_number",
		Surface:        "surface",
		Lighting:       "lighting",
	}
}

func (m PropertyMapper) Map(f RawFeature) (models.MappedAttributes, error) {
	var out models.MappedAttributes
	if v, ok := m.lookup(f, m.Responsibility); ok {
		out.Responsibility = models.Organisation(v)
	}
	if v, ok := m.lookup(f, m.Direction); ok {
		d, err := models.ParseDirection(v)
		if err != nil {
			return models.MappedAttributes{}, m.unmappable(f, err)
		}
		out.Direction = d
	}
	if v, ok := m.lookup(f, m.Speed); ok {
		s, err := models.ParseSpeed(v)
		if err != nil {
			return models.MappedAttributes{}, m.unmappable(f, err)
		}
		out.Speed = s
	}
	if v, ok := m.lookup(f, m.WayForm); ok {
		w, err := models.ParseWayForm(v)
		if err != nil {
			return models.MappedAttributes{}, m.unmappable(f, err)
		}
		out.WayForm = w
	}
	out.Scalars.StreetName, _ = m.lookup(f, m.StreetName)
	out.Scalars.StreetNumber, _ = m.lookup(f, m.StreetNumber)
	out.Scalars.Surface, _ = m.lookup(f, m.Surface)
	out.Scalars.Lighting, _ = m.lookup(f, m.Lighting)
	return out, nil
}

func (m PropertyMapper) lookup(f RawFeature, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	raw, ok := f.Properties[key]
	if !ok || raw == nil {
		return "", false
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = fmt.Sprintf("%g", v)
	default:
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func (m PropertyMapper) unmappable(f RawFeature, err error) error {
	return dErrors.Wrap(err, dErrors.CodeUnmappable, fmt.Sprintf("feature %s", f.ID))
}
