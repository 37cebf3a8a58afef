package core

import "time"

// MetricsRecorder receives engine measurements. The Prometheus collector in
// internal/observability implements it.
type MetricsRecorder interface {
	ObserveTick(d time.Duration)
	ObserveKeplerIterations(iterations int, converged bool)
	IncGenerationShortfall(belt string, members int)
	SetScale(kind string, value float64)
	SetCounts(bodies, beltMembers int)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) ObserveTick(time.Duration)          {}
func (NoopMetrics) ObserveKeplerIterations(int, bool)  {}
func (NoopMetrics) IncGenerationShortfall(string, int) {}
func (NoopMetrics) SetScale(string, float64)           {}
func (NoopMetrics) SetCounts(int, int)                 {}
