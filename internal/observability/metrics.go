package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for the simulation loop, belt
// generation and the frame stream. It implements core.MetricsRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	TickDuration        prometheus.Histogram
	Ticks               prometheus.Counter
	KeplerIterations    prometheus.Histogram
	KeplerNonConverged  prometheus.Counter
	GenerationShortfall *prometheus.CounterVec
	ScaleFactor         *prometheus.GaugeVec
	Bodies              prometheus.Gauge
	BeltMembers         prometheus.Gauge
	StreamClients       prometheus.Gauge
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orrery_tick_duration_seconds",
		Help:    "Wall-clock time spent advancing one simulation frame.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "orrery_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_ticks_total",
		Help: "Total number of simulation frames advanced.",
	}), "orrery_ticks_total")
	if err != nil {
		return nil, err
	}
	iterations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orrery_kepler_iterations",
		Help:    "Newton-Raphson iterations per Kepler solve.",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 12, 16, 20},
	}), "orrery_kepler_iterations")
	if err != nil {
		return nil, err
	}
	nonConverged, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_kepler_nonconverged_total",
		Help: "Kepler solves that hit the iteration bound before reaching the precision threshold.",
	}), "orrery_kepler_nonconverged_total")
	if err != nil {
		return nil, err
	}
	shortfalls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orrery_belt_generation_shortfalls_total",
		Help: "Belt members whose outline kept a sample after exhausting retries, labeled by belt.",
	}, []string{"belt"}), "orrery_belt_generation_shortfalls_total")
	if err != nil {
		return nil, err
	}
	scale, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orrery_scale_factor",
		Help: "Current scale factor, labeled by kind (time, orbit, body).",
	}, []string{"kind"}), "orrery_scale_factor")
	if err != nil {
		return nil, err
	}
	bodies, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_bodies",
		Help: "Current number of tracked bodies.",
	}), "orrery_bodies")
	if err != nil {
		return nil, err
	}
	members, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_belt_members",
		Help: "Current number of belt members across all belts.",
	}), "orrery_belt_members")
	if err != nil {
		return nil, err
	}
	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_stream_clients",
		Help: "Currently connected frame stream clients.",
	}), "orrery_stream_clients")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:            gatherer,
		TickDuration:        tickDuration,
		Ticks:               ticks,
		KeplerIterations:    iterations,
		KeplerNonConverged:  nonConverged,
		GenerationShortfall: shortfalls,
		ScaleFactor:         scale,
		Bodies:              bodies,
		BeltMembers:         members,
		StreamClients:       clients,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one frame.
func (c *SimCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
}

// ObserveKeplerIterations records one Kepler solve.
func (c *SimCollector) ObserveKeplerIterations(iterations int, converged bool) {
	if c == nil {
		return
	}
	c.KeplerIterations.Observe(float64(iterations))
	if !converged {
		c.KeplerNonConverged.Inc()
	}
}

// IncGenerationShortfall counts members that kept an unchecked outline.
func (c *SimCollector) IncGenerationShortfall(belt string, members int) {
	if c == nil || members <= 0 {
		return
	}
	c.GenerationShortfall.WithLabelValues(belt).Add(float64(members))
}

// SetScale mirrors a committed scale factor.
func (c *SimCollector) SetScale(kind string, value float64) {
	if c == nil {
		return
	}
	c.ScaleFactor.WithLabelValues(kind).Set(value)
}

// SetCounts sets the body and belt member gauges.
func (c *SimCollector) SetCounts(bodies, beltMembers int) {
	if c == nil {
		return
	}
	c.Bodies.Set(float64(bodies))
	c.BeltMembers.Set(float64(beltMembers))
}

// SetStreamClients sets the connected stream client gauge.
func (c *SimCollector) SetStreamClients(n int) {
	if c == nil {
		return
	}
	c.StreamClients.Set(float64(n))
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
