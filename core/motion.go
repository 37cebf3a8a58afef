package core

import (
	"math"

	"github.com/signalsfoundry/orrery/model"
)

// BodyState is the per-tick mutable state of one body.
type BodyState struct {
	ID          string
	Elements    *model.OrbitalElementSet // nil for static bodies
	MeanAnomaly float64                  // radians, kept in [0, 2π)
	Position    Vec3                     // world units, parent offset included
	Rotation    float64                  // spin angle, kept in [0, 2π)
}

// MotionModel updates a body's position for one frame. dtScaled is in
// simulated days and parent is the parent's position from the same frame.
type MotionModel interface {
	Advance(b *BodyState, dtScaled, orbitScale float64, parent Vec3)
}

// StaticMotionModel pins a body at a fixed offset from its parent. The
// offset is unscaled and follows the orbit scale.
type StaticMotionModel struct {
	Offset model.Position
}

// Advance for static motion only re-applies the scaled offset.
func (m *StaticMotionModel) Advance(b *BodyState, _ float64, orbitScale float64, parent Vec3) {
	b.Position = parent.Add(Vec3{X: m.Offset.X, Y: m.Offset.Y, Z: m.Offset.Z}.Scale(orbitScale))
}

// KeplerMotionModel moves a body along its fixed Keplerian ellipse.
type KeplerMotionModel struct {
	Solver  KeplerSolver
	metrics MetricsRecorder
}

// NewKeplerMotionModel returns a model using solver. recorder may be nil.
func NewKeplerMotionModel(solver KeplerSolver, recorder MetricsRecorder) *KeplerMotionModel {
	return &KeplerMotionModel{Solver: solver, metrics: recorder}
}

// Advance steps the mean anomaly by ω·dtScaled and recomputes the position.
func (m *KeplerMotionModel) Advance(b *BodyState, dtScaled, orbitScale float64, parent Vec3) {
	if b.Elements == nil {
		b.Position = parent
		return
	}
	b.MeanAnomaly = NormalizeAngle(b.MeanAnomaly + b.Elements.AngularVelocity()*dtScaled)
	b.Position = parent.Add(m.Position(b.Elements, b.MeanAnomaly, orbitScale))
}

// Position evaluates the orbital offset from the parent at mean anomaly ma.
// The semi-major axis is scaled by orbitScale at call time.
func (m *KeplerMotionModel) Position(el *model.OrbitalElementSet, ma, orbitScale float64) Vec3 {
	sol := m.Solver.SolveDetailed(ma, el.Eccentricity)
	if m.metrics != nil {
		m.metrics.ObserveKeplerIterations(sol.Iterations, sol.Converged)
	}
	nu := TrueAnomaly(sol.E, el.Eccentricity)
	r := FocusRadius(el.SemiMajorAxis*orbitScale, el.Eccentricity, nu)
	return orbitalOffset(r, nu, el.AscendingNode, el.PerihelionArg, el.Inclination)
}

// orbitalOffset projects a focus distance r at true anomaly nu into the
// system frame, with Y as the out-of-plane axis. Inclination flattens the
// in-plane components by cos i rather than rotating them, so the offset
// length equals r only for uninclined orbits.
func orbitalOffset(r, nu, node, perihelion, incl float64) Vec3 {
	u := nu + perihelion
	sinN, cosN := math.Sincos(node)
	sinU, cosU := math.Sincos(u)
	sinI, cosI := math.Sincos(incl)
	return Vec3{
		X: r * (cosN*cosU - sinN*sinU) * cosI,
		Y: r * sinU * sinI,
		Z: r * (sinN*cosU + cosN*sinU) * cosI,
	}
}

// advanceRotation spins a body by one frame. dayLength <= 0 disables spin.
func advanceRotation(b *BodyState, dtScaled, dayLength float64) {
	if dayLength <= 0 {
		return
	}
	b.Rotation = NormalizeAngle(b.Rotation + dtScaled*2*math.Pi/dayLength)
}
