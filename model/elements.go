package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidSemiMajorAxis = errors.New("semi-major axis must be positive")
	ErrInvalidEccentricity  = errors.New("eccentricity must lie in [0, 1)")
	ErrInvalidPeriod        = errors.New("sidereal period must be positive")
	ErrInvalidAngle         = errors.New("orbital angle must be finite")
)

// OrbitalElements are the raw inputs describing one Keplerian ellipse.
// Angles are radians, distances are unscaled (1000 km) and periods are days.
type OrbitalElements struct {
	SemiMajorAxis  float64
	Eccentricity   float64
	Inclination    float64
	AscendingNode  float64
	PerihelionArg  float64
	InitialAnomaly float64
	SiderealPeriod float64
}

// Validate checks the construction preconditions of an ellipse.
func (el OrbitalElements) Validate() error {
	if !finite(el.SemiMajorAxis) || el.SemiMajorAxis <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidSemiMajorAxis, el.SemiMajorAxis)
	}
	if !finite(el.Eccentricity) || el.Eccentricity < 0 || el.Eccentricity >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidEccentricity, el.Eccentricity)
	}
	if !finite(el.SiderealPeriod) || el.SiderealPeriod <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidPeriod, el.SiderealPeriod)
	}
	for name, v := range map[string]float64{
		"inclination":     el.Inclination,
		"ascending node":  el.AscendingNode,
		"perihelion arg":  el.PerihelionArg,
		"initial anomaly": el.InitialAnomaly,
	} {
		if !finite(v) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidAngle, name, v)
		}
	}
	return nil
}

// OrbitalElementSet is a validated ellipse with its derived values cached.
// Only the period (and therefore the angular velocity) may change after
// construction, when the orbit scale changes.
type OrbitalElementSet struct {
	OrbitalElements

	semiMinorAxis   float64
	period          float64
	angularVelocity float64
}

// NewOrbitalElementSet validates el and caches the semi-minor axis and
// angular velocity.
func NewOrbitalElementSet(el OrbitalElements) (*OrbitalElementSet, error) {
	if err := el.Validate(); err != nil {
		return nil, err
	}
	set := &OrbitalElementSet{
		OrbitalElements: el,
		semiMinorAxis:   el.SemiMajorAxis * math.Sqrt(1-el.Eccentricity*el.Eccentricity),
	}
	set.setPeriod(el.SiderealPeriod)
	return set, nil
}

// SemiMinorAxis returns a·sqrt(1-e²).
func (s *OrbitalElementSet) SemiMinorAxis() float64 { return s.semiMinorAxis }

// Period returns the current orbital period in days.
func (s *OrbitalElementSet) Period() float64 { return s.period }

// AngularVelocity returns the mean motion 2π/period in radians per day.
func (s *OrbitalElementSet) AngularVelocity() float64 { return s.angularVelocity }

// SetPeriod replaces the current period and recomputes the angular velocity.
func (s *OrbitalElementSet) SetPeriod(period float64) error {
	if !finite(period) || period <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidPeriod, period)
	}
	s.setPeriod(period)
	return nil
}

func (s *OrbitalElementSet) setPeriod(period float64) {
	s.period = period
	s.angularVelocity = 2 * math.Pi / period
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
