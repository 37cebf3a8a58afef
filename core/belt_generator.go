package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/orrery/internal/logging"
)

var (
	ErrInvalidBeltParams = errors.New("invalid belt parameters")
	ErrShapeConstraint   = errors.New("belt shape violates constraints")
)

const (
	DefaultShapeAttempts = 100
	DefaultMinCosine     = 0.1
	DefaultMaxCosine     = 0.9
	TightMinCosine       = 0.2
	TightMaxCosine       = 0.8
)

// BeltParams configures one procedurally generated belt. Angles are radians
// and distances are unscaled.
type BeltParams struct {
	Name              string
	Population        int
	SemiMajorMin      float64
	SemiMajorMax      float64
	InclinationRange  float64
	EccentricityRange float64

	Radius      float64 // outline radius of one member
	VertexCount int     // 2 or 3 outline points

	MaxAttempts int // per outline point
	MinCosine   float64
	MaxCosine   float64
}

// DefaultBeltParams returns a three-vertex belt with the stock shape bounds.
// Population and the orbit ranges still need to be set.
func DefaultBeltParams(name string) BeltParams {
	return BeltParams{
		Name:        name,
		Radius:      1,
		VertexCount: 3,
		MaxAttempts: DefaultShapeAttempts,
		MinCosine:   DefaultMinCosine,
		MaxCosine:   DefaultMaxCosine,
	}
}

// Tightened returns a copy with the narrower (0.2, 0.8) cosine window.
func (p BeltParams) Tightened() BeltParams {
	p.MinCosine = TightMinCosine
	p.MaxCosine = TightMaxCosine
	return p
}

// Validate checks the parameter preconditions.
func (p BeltParams) Validate() error {
	switch {
	case p.Population <= 0:
		return fmt.Errorf("%w: population %d must be positive", ErrInvalidBeltParams, p.Population)
	case !(p.SemiMajorMin > 0) || !(p.SemiMajorMax >= p.SemiMajorMin) || math.IsInf(p.SemiMajorMax, 0):
		return fmt.Errorf("%w: semi-major range [%v, %v]", ErrInvalidBeltParams, p.SemiMajorMin, p.SemiMajorMax)
	case !(p.InclinationRange >= 0) || math.IsInf(p.InclinationRange, 0):
		return fmt.Errorf("%w: inclination range %v", ErrInvalidBeltParams, p.InclinationRange)
	case !(p.EccentricityRange >= 0) || p.EccentricityRange >= 1:
		return fmt.Errorf("%w: eccentricity range %v must lie in [0, 1)", ErrInvalidBeltParams, p.EccentricityRange)
	case !(p.Radius > 0) || math.IsInf(p.Radius, 0):
		return fmt.Errorf("%w: radius %v must be positive", ErrInvalidBeltParams, p.Radius)
	case p.VertexCount < 2 || p.VertexCount > 3:
		return fmt.Errorf("%w: vertex count %d must be 2 or 3", ErrInvalidBeltParams, p.VertexCount)
	case p.MaxAttempts <= 0:
		return fmt.Errorf("%w: max attempts %d must be positive", ErrInvalidBeltParams, p.MaxAttempts)
	case !(p.MinCosine < p.MaxCosine) || p.MinCosine < -1 || p.MaxCosine > 1:
		return fmt.Errorf("%w: cosine window (%v, %v)", ErrInvalidBeltParams, p.MinCosine, p.MaxCosine)
	}
	return nil
}

// BeltShape is the outline of one member: 2 or 3 offsets around its center.
type BeltShape []Vec2

// ShapeAttempts reports how many samples each outline point took.
type ShapeAttempts struct {
	PerVertex []int
	// Exhausted is true when at least one point hit the attempt ceiling and
	// its last sample was kept unchecked.
	Exhausted bool
}

// Max returns the largest per-vertex attempt count.
func (a ShapeAttempts) Max() int {
	m := 0
	for _, n := range a.PerVertex {
		m = max(m, n)
	}
	return m
}

// BeltMember is one belt entity: a fixed ellipse plus its outline.
type BeltMember struct {
	SemiMajorAxis float64
	SemiMinorAxis float64
	Eccentricity  float64
	Inclination   float64
	AscendingNode float64

	Forward Vec3 // unit vector along the major axis
	Right   Vec3 // unit vector along the minor axis

	InitialPhase float64
	Period       float64 // days at the orbit scale of the last rescale

	Shape     BeltShape
	Exhausted bool
}

// GenerationReport summarises one Generate call.
type GenerationReport struct {
	Members          int
	ExhaustedMembers []int
	MaxAttemptsUsed  int
}

// BeltGenerator samples belt members from a seeded PCG source. It is safe
// for concurrent use.
type BeltGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand

	log     logging.Logger
	metrics MetricsRecorder
}

// BeltOption configures a BeltGenerator.
type BeltOption func(*BeltGenerator)

// WithBeltLogger sets the logger used for shortfall warnings.
func WithBeltLogger(l logging.Logger) BeltOption {
	return func(g *BeltGenerator) { g.log = logging.OrNoop(l) }
}

// WithBeltMetrics sets the recorder that counts shortfalls.
func WithBeltMetrics(m MetricsRecorder) BeltOption {
	return func(g *BeltGenerator) {
		if m != nil {
			g.metrics = m
		}
	}
}

// NewBeltGenerator returns a generator whose output is fully determined by
// seed.
func NewBeltGenerator(seed uint64, opts ...BeltOption) *BeltGenerator {
	g := &BeltGenerator{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log:     logging.Noop(),
		metrics: NoopMetrics{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate samples params.Population members. Shape shortfalls are reported
// in the GenerationReport and logged; they are never errors. Member periods
// follow the third law at orbitScale with the given mu.
func (g *BeltGenerator) Generate(ctx context.Context, params BeltParams, orbitScale, mu float64) (*Belt, GenerationReport, error) {
	ctx, span := startSpan(ctx, "core.GenerateBelt", "belt", params.Name,
		attribute.Int("belt.population", params.Population))
	defer span.End()

	if err := params.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, GenerationReport{}, fmt.Errorf("GenerateBelt %q: %w", params.Name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	belt := &Belt{
		Name:    params.Name,
		Params:  params,
		Members: make([]BeltMember, 0, params.Population),
	}
	report := GenerationReport{}

	for i := 0; i < params.Population; i++ {
		if err := ctx.Err(); err != nil {
			return nil, report, fmt.Errorf("GenerateBelt %q: %w", params.Name, err)
		}
		m, attempts := g.memberLocked(params, orbitScale, mu)
		belt.Members = append(belt.Members, m)
		report.Members++
		report.MaxAttemptsUsed = max(report.MaxAttemptsUsed, attempts.Max())
		if attempts.Exhausted {
			report.ExhaustedMembers = append(report.ExhaustedMembers, i)
			g.log.Warn(ctx, "belt member shape kept after exhausting retries",
				logging.String("belt", params.Name),
				logging.Int("member", i),
				logging.Any("attempts", attempts.PerVertex),
			)
		}
	}

	if n := len(report.ExhaustedMembers); n > 0 {
		g.metrics.IncGenerationShortfall(params.Name, n)
	}
	span.SetAttributes(
		attribute.Int("belt.exhausted_members", len(report.ExhaustedMembers)),
		attribute.Int("belt.max_attempts_used", report.MaxAttemptsUsed),
	)
	g.log.Debug(ctx, "belt generated",
		logging.String("belt", params.Name),
		logging.Int("members", report.Members),
		logging.Int("exhausted", len(report.ExhaustedMembers)),
	)
	return belt, report, nil
}

func (g *BeltGenerator) memberLocked(p BeltParams, orbitScale, mu float64) (BeltMember, ShapeAttempts) {
	a := p.SemiMajorMin + g.rng.Float64()*(p.SemiMajorMax-p.SemiMajorMin)
	incl := g.rng.Float64() * p.InclinationRange
	if g.rng.IntN(2) == 0 {
		incl = -incl
	}
	e := g.rng.Float64() * p.EccentricityRange
	psi := g.rng.Float64() * 2 * math.Pi

	sinI, cosI := math.Sincos(incl)
	sinPsi, cosPsi := math.Sincos(psi)

	shape, attempts := g.shapeLocked(p.Radius, p.VertexCount, p.MinCosine, p.MaxCosine, p.MaxAttempts)

	return BeltMember{
		SemiMajorAxis: a,
		SemiMinorAxis: a * math.Sqrt(1-e*e),
		Eccentricity:  e,
		Inclination:   incl,
		AscendingNode: psi,
		Forward:       Vec3{X: cosI * sinPsi, Y: -sinI, Z: cosI * cosPsi},
		Right:         Vec3{X: cosPsi, Y: 0, Z: -sinPsi},
		InitialPhase:  g.rng.Float64() * 2 * math.Pi,
		Period:        ThirdLawPeriod(a, orbitScale, mu),
		Shape:         shape,
		Exhausted:     attempts.Exhausted,
	}, attempts
}

// GenerateShape samples one outline. Every point after the first lies in
// the quadrant clockwise-adjacent to its predecessor. A point that cannot
// be placed within maxAttempts keeps its last sample and is reported as
// exhausted.
func (g *BeltGenerator) GenerateShape(radius float64, vertexCount int, minCos, maxCos float64, maxAttempts int) (BeltShape, ShapeAttempts) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shapeLocked(radius, vertexCount, minCos, maxCos, maxAttempts)
}

func (g *BeltGenerator) shapeLocked(radius float64, vertexCount int, minCos, maxCos float64, maxAttempts int) (BeltShape, ShapeAttempts) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultShapeAttempts
	}
	shape := make(BeltShape, 0, vertexCount)
	attempts := ShapeAttempts{PerVertex: make([]int, 0, vertexCount)}

	var p Vec2
	n := 0
	for n < maxAttempts {
		n++
		p = Vec2{X: g.uniform(-radius, radius), Y: g.uniform(-radius, radius)}
		if validFirstPoint(p, radius) {
			break
		}
	}
	if !validFirstPoint(p, radius) {
		attempts.Exhausted = true
	}
	shape = append(shape, p)
	attempts.PerVertex = append(attempts.PerVertex, n)

	for len(shape) < vertexCount {
		prev := shape[len(shape)-1]
		sx, sy := quadrantSigns(clockwiseNext(prev.Quadrant()))
		n = 0
		for n < maxAttempts {
			n++
			p = Vec2{X: sx * g.rng.Float64() * radius, Y: sy * g.rng.Float64() * radius}
			if validNextPoint(p, prev, radius, minCos, maxCos) {
				break
			}
		}
		if !validNextPoint(p, prev, radius, minCos, maxCos) {
			attempts.Exhausted = true
		}
		shape = append(shape, p)
		attempts.PerVertex = append(attempts.PerVertex, n)
	}
	return shape, attempts
}

func (g *BeltGenerator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// CheckShape verifies the outline constraints used by GenerateShape.
func CheckShape(shape BeltShape, radius, minCos, maxCos float64) error {
	if len(shape) < 2 || len(shape) > 3 {
		return fmt.Errorf("%w: %d points", ErrShapeConstraint, len(shape))
	}
	if !validFirstPoint(shape[0], radius) {
		return fmt.Errorf("%w: point 0 %+v", ErrShapeConstraint, shape[0])
	}
	for i := 1; i < len(shape); i++ {
		prev, p := shape[i-1], shape[i]
		if p.Quadrant() != clockwiseNext(prev.Quadrant()) {
			return fmt.Errorf("%w: point %d in quadrant %d after quadrant %d", ErrShapeConstraint, i, p.Quadrant(), prev.Quadrant())
		}
		if !validNextPoint(p, prev, radius, minCos, maxCos) {
			return fmt.Errorf("%w: point %d %+v after %+v", ErrShapeConstraint, i, p, prev)
		}
	}
	return nil
}

func validFirstPoint(p Vec2, radius float64) bool {
	return p.X != 0 && p.Y != 0 && p.Norm() > radius/5
}

func validNextPoint(p, prev Vec2, radius, minCos, maxCos float64) bool {
	if p.X == 0 || p.Y == 0 {
		return false
	}
	if p.Norm() <= radius/5 || p.Sub(prev).Norm() <= radius/5 {
		return false
	}
	c := p.CosineSimilarity(prev)
	return c > minCos && c < maxCos
}

// clockwiseNext maps Q1→Q4→Q3→Q2→Q1.
func clockwiseNext(q int) int {
	if q == 1 {
		return 4
	}
	return q - 1
}

func quadrantSigns(q int) (float64, float64) {
	switch q {
	case 1:
		return 1, 1
	case 2:
		return -1, 1
	case 3:
		return -1, -1
	default:
		return 1, -1
	}
}
