package core

import "github.com/signalsfoundry/orrery/timectrl"

// Params are the system-wide tunables.
type Params struct {
	Scale timectrl.ScaleLimits

	// Mu is the gravitational constant used for third-law periods after an
	// orbit-scale change.
	Mu float64

	PrecisionDigits     int
	MaxKeplerIterations int
}

// DefaultParams returns the stock scale limits, mu = 17.78, 5 precision
// digits and 20 Newton iterations.
func DefaultParams() Params {
	return Params{
		Scale:               timectrl.DefaultScaleLimits(),
		Mu:                  DefaultMu,
		PrecisionDigits:     DefaultPrecisionDigits,
		MaxKeplerIterations: DefaultMaxKeplerIterations,
	}
}

// Solver returns the Kepler solver configured by p.
func (p Params) Solver() KeplerSolver {
	return KeplerSolver{
		PrecisionDigits: p.PrecisionDigits,
		MaxIterations:   p.MaxKeplerIterations,
	}
}
