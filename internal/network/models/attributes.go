package models

import (
	"math"
	"strconv"
	"strings"

	dErrors "basenet/pkg/domain-errors"
)

// Dimension names one attribute group of an edge.
type Dimension string

const (
	DimensionResponsibility Dimension = "responsibility"
	DimensionDirection      Dimension = "direction"
	DimensionSpeed          Dimension = "speed"
	DimensionWayForm        Dimension = "way_form"
)

// Dimensions lists every attribute dimension in storage order.
var Dimensions = []Dimension{DimensionResponsibility, DimensionDirection, DimensionSpeed, DimensionWayForm}

// Organisation is the key of the body responsible for a stretch of edge.
type Organisation string

const OrganisationUnknown Organisation = "UNBEKANNT"

// Direction is the permitted travel direction relative to the geometry.
type Direction string

const (
	DirectionBoth     Direction = "BEIDE"
	DirectionForward  Direction = "VORWAERTS"
	DirectionBackward Direction = "RUECKWAERTS"
	DirectionUnknown  Direction = "UNBEKANNT"
)

// ParseDirection accepts the canonical names case-insensitively.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DirectionBoth, DirectionForward, DirectionBackward, DirectionUnknown:
		return d, nil
	}
	return "", dErrors.Newf(dErrors.CodeUnmappable, "unknown direction %q", s)
}

// Speed is the posted speed in km/h, or SpeedUnknown.
type Speed string

const SpeedUnknown Speed = "UNBEKANNT"

// ParseSpeed accepts a positive integer km/h value.
func ParseSpeed(s string) (Speed, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, string(SpeedUnknown)) {
		return SpeedUnknown, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 200 {
		return "", dErrors.Newf(dErrors.CodeUnmappable, "unknown speed %q", s)
	}
	return Speed(strconv.Itoa(n)), nil
}

// KMH returns the numeric speed and whether it is known.
func (s Speed) KMH() (int, bool) {
	n, err := strconv.Atoi(string(s))
	return n, err == nil
}

// WayForm classifies how traffic is carried (Führungsform).
type WayForm string

const (
	WayFormCycleTrack   WayForm = "RADWEG"
	WayFormCycleLane    WayForm = "RADFAHRSTREIFEN"
	WayFormSharedPath   WayForm = "GEH_RADWEG"
	WayFormMixedTraffic WayForm = "MISCHVERKEHR"
	WayFormCycleStreet  WayForm = "FAHRRADSTRASSE"
	WayFormFootpath     WayForm = "GEHWEG"
	WayFormUnknown      WayForm = "UNBEKANNT"
)

var wayForms = map[WayForm]struct{}{
	WayFormCycleTrack: {}, WayFormCycleLane: {}, WayFormSharedPath: {}, WayFormMixedTraffic: {},
	WayFormCycleStreet: {}, WayFormFootpath: {}, WayFormUnknown: {},
}

// ParseWayForm accepts the canonical names case-insensitively.
func ParseWayForm(s string) (WayForm, error) {
	w := WayForm(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := wayForms[w]; ok {
		return w, nil
	}
	return "", dErrors.Newf(dErrors.CodeUnmappable, "unknown way form %q", s)
}

// DirectionSimilarity treats BEIDE as half-compatible with either direction.
func DirectionSimilarity(a, b Direction) float64 {
	switch {
	case a == b:
		return 1
	case a == DirectionBoth || b == DirectionBoth:
		return 0.5
	default:
		return 0
	}
}

// SpeedSimilarity decays with the difference in km/h.
func SpeedSimilarity(a, b Speed) float64 {
	if a == b {
		return 1
	}
	x, okA := a.KMH()
	y, okB := b.KMH()
	if !okA || !okB {
		return 0
	}
	return 1 / (1 + math.Abs(float64(x-y))/10)
}

// WayFormSimilarity groups the separated cycle facilities together.
func WayFormSimilarity(a, b WayForm) float64 {
	if a == b {
		return 1
	}
	separated := func(w WayForm) bool {
		return w == WayFormCycleTrack || w == WayFormSharedPath || w == WayFormCycleLane
	}
	if separated(a) && separated(b) {
		return 0.5
	}
	return 0
}

// ScalarAttributes are edge attributes that hold for the whole length.
type ScalarAttributes struct {
	StreetName   string
	StreetNumber string
	Surface      string
	Lighting     string
}

// AttributeGroups holds one group per dimension. Edges own it by value.
type AttributeGroups struct {
	Responsibility Group[Organisation]
	Direction      Group[Direction]
	Speed          Group[Speed]
	WayForm        Group[WayForm]
}

// UnknownGroups covers every dimension with its unknown value.
func UnknownGroups() AttributeGroups {
	return AttributeGroups{
		Responsibility: FullLength(OrganisationUnknown),
		Direction:      FullLength(DirectionUnknown),
		Speed:          FullLength(SpeedUnknown),
		WayForm:        FullLength(WayFormUnknown),
	}
}

func (a AttributeGroups) Validate() error {
	checks := []struct {
		dim Dimension
		err error
	}{
		{DimensionResponsibility, a.Responsibility.Validate()},
		{DimensionDirection, a.Direction.Validate()},
		{DimensionSpeed, a.Speed.Validate()},
		{DimensionWayForm, a.WayForm.Validate()},
	}
	for _, c := range checks {
		if c.err != nil {
			return dErrors.Wrap(c.err, dErrors.CodeInvariantViolation, string(c.dim))
		}
	}
	return nil
}

func (a AttributeGroups) Equal(o AttributeGroups) bool {
	return a.Responsibility.Equal(o.Responsibility) &&
		a.Direction.Equal(o.Direction) &&
		a.Speed.Equal(o.Speed) &&
		a.WayForm.Equal(o.WayForm)
}

func (a AttributeGroups) Clone() AttributeGroups {
	return AttributeGroups{
		Responsibility: a.Responsibility.Clone(),
		Direction:      a.Direction.Clone(),
		Speed:          a.Speed.Clone(),
		WayForm:        a.WayForm.Clone(),
	}
}

// Sub returns every group restricted to r.
func (a AttributeGroups) Sub(r LinearRange) AttributeGroups {
	return AttributeGroups{
		Responsibility: a.Responsibility.Sub(r),
		Direction:      a.Direction.Sub(r),
		Speed:          a.Speed.Sub(r),
		WayForm:        a.WayForm.Sub(r),
	}
}

// Pieces cuts every group at the same positions.
func (a AttributeGroups) Pieces(cuts []float64) ([]AttributeGroups, error) {
	prev := 0.0
	out := make([]AttributeGroups, 0, len(cuts)+1)
	for _, c := range append(append([]float64(nil), cuts...), 1) {
		if c <= prev || c > 1 {
			return nil, dErrors.Newf(dErrors.CodeValidation, "cut positions not ascending at %g", c)
		}
		out = append(out, a.Sub(LinearRange{From: prev, To: c}))
		prev = c
	}
	return out, nil
}

// Reproject maps the boundaries of every group through fn. When fn would
// reorder any group's boundaries all groups keep their relative positions.
func (a AttributeGroups) Reproject(fn func(float64) float64) (AttributeGroups, bool) {
	r, ok1 := a.Responsibility.Reproject(fn)
	d, ok2 := a.Direction.Reproject(fn)
	s, ok3 := a.Speed.Reproject(fn)
	w, ok4 := a.WayForm.Reproject(fn)
	if !(ok1 && ok2 && ok3 && ok4) {
		return a.Clone(), false
	}
	return AttributeGroups{Responsibility: r, Direction: d, Speed: s, WayForm: w}, true
}

// Heal repairs every group that violates the coverage invariant.
func (a AttributeGroups) Heal() (AttributeGroups, bool) {
	out := a.Clone()
	healed := false
	if a.Responsibility.Validate() != nil {
		out.Responsibility, healed = a.Responsibility.Heal(OrganisationUnknown), true
	}
	if a.Direction.Validate() != nil {
		out.Direction, healed = a.Direction.Heal(DirectionUnknown), true
	}
	if a.Speed.Validate() != nil {
		out.Speed, healed = a.Speed.Heal(SpeedUnknown), true
	}
	if a.WayForm.Validate() != nil {
		out.WayForm, healed = a.WayForm.Heal(WayFormUnknown), true
	}
	return out, healed
}

// Defragment runs Group.Defragment on every dimension with its similarity.
func (a AttributeGroups) Defragment(minLength float64) (AttributeGroups, int) {
	var out AttributeGroups
	merged := 0
	count := func(before, after int) {
		if after < before {
			merged += before - after
		}
	}
	out.Responsibility, _ = a.Responsibility.Defragment(minLength, Equality[Organisation])
	count(len(a.Responsibility.Segments), len(out.Responsibility.Segments))
	out.Direction, _ = a.Direction.Defragment(minLength, DirectionSimilarity)
	count(len(a.Direction.Segments), len(out.Direction.Segments))
	out.Speed, _ = a.Speed.Defragment(minLength, SpeedSimilarity)
	count(len(a.Speed.Segments), len(out.Speed.Segments))
	out.WayForm, _ = a.WayForm.Defragment(minLength, WayFormSimilarity)
	count(len(a.WayForm.Segments), len(out.WayForm.Segments))
	return out, merged
}

// MappedAttributes is what the attribute mapper derives from one raw
// feature. Empty values mean the source does not provide the dimension, so
// existing segments of that dimension are kept.
type MappedAttributes struct {
	Responsibility Organisation
	Direction      Direction
	Speed          Speed
	WayForm        WayForm
	Scalars        ScalarAttributes
}

// Apply rebuilds every provided dimension as a single full-length segment.
func (m MappedAttributes) Apply(a AttributeGroups) AttributeGroups {
	out := a.Clone()
	if m.Responsibility != "" {
		out.Responsibility = FullLength(m.Responsibility)
	}
	if m.Direction != "" {
		out.Direction = FullLength(m.Direction)
	}
	if m.Speed != "" {
		out.Speed = FullLength(m.Speed)
	}
	if m.WayForm != "" {
		out.WayForm = FullLength(m.WayForm)
	}
	return out
}

// Groups builds the groups of a new edge.
func (m MappedAttributes) Groups() AttributeGroups {
	return m.Apply(UnknownGroups())
}
