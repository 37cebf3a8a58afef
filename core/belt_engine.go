package core

import "math"

// Belt is a generated population of belt members. Positions are evaluated
// in closed form without a Kepler solve: members move along their ellipse
// with a phase that grows linearly in time. Belt eccentricities are small,
// and named bodies use the full solver.
type Belt struct {
	Name    string
	Params  BeltParams
	Members []BeltMember
}

// Position returns the member's world position at elapsed days.
func (m *BeltMember) Position(elapsed, orbitScale float64) Vec3 {
	theta := m.InitialPhase + elapsed/m.Period
	a := m.SemiMajorAxis * orbitScale
	b := m.SemiMinorAxis * orbitScale
	cosT, sinT := math.Cos(-theta), math.Sin(-theta)
	return m.Forward.Scale(a*m.Eccentricity + a*cosT).Add(m.Right.Scale(b * sinT))
}

// Positions writes every member's position into dst, growing it if needed,
// and returns the filled slice.
func (b *Belt) Positions(elapsed, orbitScale float64, dst []Vec3) []Vec3 {
	if cap(dst) < len(b.Members) {
		dst = make([]Vec3, len(b.Members))
	}
	dst = dst[:len(b.Members)]
	for i := range b.Members {
		dst[i] = b.Members[i].Position(elapsed, orbitScale)
	}
	return dst
}

// Rescale recomputes every member's period for a new orbit scale.
func (b *Belt) Rescale(orbitScale, mu float64) {
	for i := range b.Members {
		m := &b.Members[i]
		m.Period = ThirdLawPeriod(m.SemiMajorAxis, orbitScale, mu)
	}
}

// Len returns the member count.
func (b *Belt) Len() int {
	return len(b.Members)
}
