package model

// MotionSource indicates how a body's position is determined.
type MotionSource int

const (
	MotionSourceKepler MotionSource = iota // propagated along its ellipse
	MotionSourceStatic                     // fixed position, e.g. the central star
)

func (s MotionSource) String() string {
	switch s {
	case MotionSourceStatic:
		return "static"
	default:
		return "kepler"
	}
}

// Position is a point in unscaled system coordinates.
type Position struct {
	X float64
	Y float64
	Z float64
}

// BodyDefinition describes a tracked body: a planet, a moon, or a static star.
type BodyDefinition struct {
	ID       string
	Name     string
	ParentID string // empty for bodies orbiting the system origin

	MotionSource MotionSource
	Elements     OrbitalElements
	Position     Position // used when MotionSource is static

	Size          float64 // unscaled diameter
	DayLength     float64 // days per spin; 0 disables rotation
	StartRotation float64 // radians

	// Mu overrides the system gravitational constant for this body's
	// third-law period. CalibrateMu derives it from SiderealPeriod instead.
	Mu          float64
	CalibrateMu bool
}

// Orbits reports whether the body is propagated along an ellipse.
func (b *BodyDefinition) Orbits() bool {
	return b.MotionSource == MotionSourceKepler
}
