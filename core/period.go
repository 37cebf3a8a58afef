package core

import "math"

// DefaultMu is the gravitational constant in world units: scaled 1000 km
// cubed per day squared at the stock orbit scale.
const DefaultMu = 17.78

// ThirdLawPeriod returns 2π·sqrt((a·orbitScale)³/mu) in days.
func ThirdLawPeriod(a, orbitScale, mu float64) float64 {
	as := a * orbitScale
	return 2 * math.Pi * math.Sqrt(as*as*as/mu)
}

// CalibrateMu returns the mu for which ThirdLawPeriod(a, orbitScale, mu)
// equals period.
func CalibrateMu(a, orbitScale, period float64) float64 {
	as := a * orbitScale
	n := 2 * math.Pi / period
	return as * as * as * n * n
}
