package models

import (
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "basenet/pkg/domain-errors"
)

type GroupSuite struct {
	suite.Suite
}

func TestGroupSuite(t *testing.T) {
	suite.Run(t, new(GroupSuite))
}

func seg[V Value](from, to float64, v V) Segment[V] {
	return Segment[V]{Range: LinearRange{From: from, To: to}, Value: v}
}

func (s *GroupSuite) TestValidate() {
	s.Run("full length is valid", func() {
		s.Require().NoError(FullLength(Speed("30")).Validate())
	})

	s.Run("gap is rejected", func() {
		_, err := NewGroup(seg(0, 0.4, Speed("30")), seg(0.5, 1, Speed("50")))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("must start at zero and end at one", func() {
		_, err := NewGroup(seg(0.1, 1, Speed("30")))
		s.Require().Error(err)
		_, err = NewGroup(seg(0, 0.9, Speed("30")))
		s.Require().Error(err)
	})

	s.Run("empty is rejected", func() {
		s.Require().Error(Group[Speed]{}.Validate())
	})
}

func (s *GroupSuite) TestValueAt() {
	g, err := NewGroup(seg(0, 0.3, Speed("30")), seg(0.3, 1, Speed("50")))
	s.Require().NoError(err)

	s.Equal(Speed("30"), g.ValueAt(0))
	s.Equal(Speed("30"), g.ValueAt(0.29))
	s.Equal(Speed("50"), g.ValueAt(0.3))
	s.Equal(Speed("50"), g.ValueAt(1))
}

func (s *GroupSuite) TestSplit() {
	g, err := NewGroup(seg(0, 0.3, WayForm("A")), seg(0.3, 1, WayForm("B")))
	s.Require().NoError(err)

	s.Run("sub ranges renormalized by length ratio", func() {
		left, right, err := g.Split(0.4)
		s.Require().NoError(err)
		s.Require().NoError(left.Validate())
		s.Require().NoError(right.Validate())

		s.Require().Len(left.Segments, 2)
		s.InDelta(0.75, left.Segments[0].Range.To, 1e-9)
		s.Equal(WayForm("A"), left.Segments[0].Value)
		s.Equal(WayForm("B"), left.Segments[1].Value)

		s.Require().Len(right.Segments, 1)
		s.Equal(WayForm("B"), right.Segments[0].Value)
		s.Equal(FullRange(), right.Segments[0].Range)
	})

	s.Run("split on a boundary keeps one value per side", func() {
		left, right, err := g.Split(0.3)
		s.Require().NoError(err)
		s.Equal(FullLength(WayForm("A")), left)
		s.Equal(FullLength(WayForm("B")), right)
	})

	s.Run("split outside the open interval fails", func() {
		_, _, err := g.Split(0)
		s.Error(err)
		_, _, err = g.Split(1)
		s.Error(err)
	})

	s.Run("pieces at several cuts", func() {
		pieces, err := g.Pieces([]float64{0.2, 0.6})
		s.Require().NoError(err)
		s.Require().Len(pieces, 3)
		s.Equal(FullLength(WayForm("A")), pieces[0])
		s.Require().Len(pieces[1].Segments, 2)
		s.InDelta(0.25, pieces[1].Segments[0].Range.To, 1e-9)
		s.Equal(FullLength(WayForm("B")), pieces[2])

		_, err = g.Pieces([]float64{0.6, 0.2})
		s.Error(err)
	})
}

func (s *GroupSuite) TestReproject() {
	g, err := NewGroup(seg(0, 0.5, Speed("30")), seg(0.5, 1, Speed("50")))
	s.Require().NoError(err)

	s.Run("monotone mapping moves boundaries", func() {
		out, ok := g.Reproject(func(p float64) float64 { return p * p })
		s.True(ok)
		s.Require().NoError(out.Validate())
		s.InDelta(0.25, out.Segments[0].Range.To, 1e-9)
	})

	s.Run("reordering mapping keeps relative positions", func() {
		three, err := NewGroup(seg(0, 0.3, Speed("30")), seg(0.3, 0.6, Speed("50")), seg(0.6, 1, Speed("70")))
		s.Require().NoError(err)
		out, ok := three.Reproject(func(p float64) float64 { return 1 - p })
		s.False(ok)
		s.Equal(three, out)
	})

	s.Run("collapsed segment is dropped", func() {
		three, err := NewGroup(seg(0, 0.3, Speed("30")), seg(0.3, 0.6, Speed("50")), seg(0.6, 1, Speed("70")))
		s.Require().NoError(err)
		out, ok := three.Reproject(func(float64) float64 { return 0.5 })
		s.True(ok)
		s.Require().NoError(out.Validate())
		s.Len(out.Segments, 2)
	})
}

func (s *GroupSuite) TestDefragment() {
	s.Run("equal neighbours merge", func() {
		g, err := NewGroup(seg(0, 0.5, Speed("30")), seg(0.5, 1, Speed("30")))
		s.Require().NoError(err)
		out, changed := g.Defragment(0, nil)
		s.True(changed)
		s.Equal(FullLength(Speed("30")), out)
	})

	s.Run("short segment joins most similar neighbour", func() {
		g, err := NewGroup(seg(0, 0.45, Speed("30")), seg(0.45, 0.5, Speed("50")), seg(0.5, 1, Speed("100")))
		s.Require().NoError(err)
		out, changed := g.Defragment(0.1, SpeedSimilarity)
		s.True(changed)
		s.Require().NoError(out.Validate())
		s.Require().Len(out.Segments, 2)
		s.InDelta(0.5, out.Segments[0].Range.To, 1e-9)
		s.Equal(Speed("30"), out.Segments[0].Value)
		s.Equal(Speed("100"), out.Segments[1].Value)
	})

	s.Run("tie goes to longer neighbour", func() {
		g, err := NewGroup(seg(0, 0.2, WayForm("A")), seg(0.2, 0.25, WayForm("X")), seg(0.25, 1, WayForm("B")))
		s.Require().NoError(err)
		out, _ := g.Defragment(0.1, Equality[WayForm])
		s.Require().Len(out.Segments, 2)
		s.InDelta(0.2, out.Segments[0].Range.To, 1e-9)
		s.Equal(WayForm("B"), out.Segments[1].Value)
	})

	s.Run("long segments survive unchanged", func() {
		g, err := NewGroup(seg(0, 0.5, Speed("30")), seg(0.5, 1, Speed("50")))
		s.Require().NoError(err)
		out, changed := g.Defragment(0.1, SpeedSimilarity)
		s.False(changed)
		s.Equal(g, out)
	})

	s.Run("everything short collapses to one segment", func() {
		g, err := NewGroup(seg(0, 0.5, Speed("30")), seg(0.5, 1, Speed("50")))
		s.Require().NoError(err)
		out, changed := g.Defragment(2, SpeedSimilarity)
		s.True(changed)
		s.Len(out.Segments, 1)
	})
}

func (s *GroupSuite) TestHeal() {
	s.Run("gaps and overlaps are closed", func() {
		broken := Group[Speed]{Segments: []Segment[Speed]{
			seg(0.6, 1.2, Speed("70")),
			seg(0.1, 0.4, Speed("30")),
			seg(0.35, 0.5, Speed("50")),
		}}
		healed := broken.Heal(SpeedUnknown)
		s.Require().NoError(healed.Validate())
		s.Require().Len(healed.Segments, 3)
		s.Equal(Speed("30"), healed.ValueAt(0))
		s.Equal(Speed("50"), healed.ValueAt(0.45))
		s.Equal(Speed("50"), healed.ValueAt(0.55))
		s.Equal(Speed("70"), healed.ValueAt(0.9))
	})

	s.Run("empty heals to fallback", func() {
		s.Equal(FullLength(SpeedUnknown), Group[Speed]{}.Heal(SpeedUnknown))
	})
}

func (s *GroupSuite) TestMappedAttributes() {
	existing := UnknownGroups()
	existing.Responsibility = Group[Organisation]{Segments: []Segment[Organisation]{
		seg(0, 0.5, Organisation("kreis-a")),
		seg(0.5, 1, Organisation("kreis-b")),
	}}

	out := MappedAttributes{Speed: "30"}.Apply(existing)
	s.Equal(FullLength(Speed("30")), out.Speed)
	s.Equal(existing.Responsibility, out.Responsibility, "dimensions the source omits are kept")
	s.Require().NoError(out.Validate())
}
