package core

import "math"

const (
	// DefaultPrecisionDigits sets the convergence threshold 10^-5 on |f(E)|.
	DefaultPrecisionDigits = 5
	// DefaultMaxKeplerIterations bounds the Newton-Raphson loop.
	DefaultMaxKeplerIterations = 20

	// highEccentricity is where the initial guess switches from M to π.
	highEccentricity = 0.8
)

// KeplerSolver solves Kepler's equation M = E - e·sin E for E.
type KeplerSolver struct {
	PrecisionDigits int
	MaxIterations   int
}

// KeplerSolution is the detailed result of one solve.
type KeplerSolution struct {
	E          float64
	Iterations int
	Residual   float64 // |E - e·sin E - M| at E
	Converged  bool
}

// DefaultKeplerSolver returns a solver with 5 precision digits and a
// 20-iteration bound.
func DefaultKeplerSolver() KeplerSolver {
	return KeplerSolver{
		PrecisionDigits: DefaultPrecisionDigits,
		MaxIterations:   DefaultMaxKeplerIterations,
	}
}

// Solve returns the eccentric anomaly for mean anomaly m and eccentricity e.
// It never fails; if the iteration bound is hit the best estimate is returned.
func (s KeplerSolver) Solve(m, e float64) float64 {
	return s.SolveDetailed(m, e).E
}

// SolveDetailed is Solve plus the iteration count and final residual.
func (s KeplerSolver) SolveDetailed(m, e float64) KeplerSolution {
	digits := s.PrecisionDigits
	if digits <= 0 {
		digits = DefaultPrecisionDigits
	}
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxKeplerIterations
	}
	tolerance := math.Pow(10, -float64(digits))

	E := m
	if e >= highEccentricity {
		E = math.Pi
	}

	f := E - e*math.Sin(E) - m
	iterations := 0
	for math.Abs(f) >= tolerance && iterations < maxIter {
		E -= f / (1 - e*math.Cos(E))
		f = E - e*math.Sin(E) - m
		iterations++
	}

	return KeplerSolution{
		E:          E,
		Iterations: iterations,
		Residual:   math.Abs(f),
		Converged:  math.Abs(f) < tolerance,
	}
}

// TrueAnomaly converts an eccentric anomaly into the true anomaly. The
// two-argument arctangent keeps the result in the correct quadrant.
func TrueAnomaly(E, e float64) float64 {
	return math.Atan2(math.Sqrt(1-e*e)*math.Sin(E), math.Cos(E)-e)
}

// FocusRadius is the distance from the focus at true anomaly nu.
func FocusRadius(a, e, nu float64) float64 {
	return a * (1 - e*e) / (1 + e*math.Cos(nu))
}

// NormalizeAngle wraps x into [0, 2π).
func NormalizeAngle(x float64) float64 {
	x = math.Mod(x, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	if x >= 2*math.Pi {
		x = 0
	}
	return x
}
