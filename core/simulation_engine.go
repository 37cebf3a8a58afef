package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/kb"
	"github.com/signalsfoundry/orrery/model"
	"github.com/signalsfoundry/orrery/timectrl"
)

var (
	ErrUnknownBody = errors.New("unknown body")
	ErrUnknownBelt = errors.New("unknown belt")
)

const (
	// DefaultPathStep is the mean-anomaly step used by OrbitPath.
	DefaultPathStep = 0.01
	// MinPathStep bounds the number of points OrbitPath allocates.
	MinPathStep = DefaultPathStep / 100
)

// SimulationEngine advances every body and belt once per frame. Bodies live
// in an arena ordered so that parents precede their children; the order is
// rebuilt only when the knowledge base changes.
type SimulationEngine struct {
	mu sync.RWMutex

	store   *kb.KnowledgeBase
	scale   *timectrl.ScaleModel
	params  Params
	log     logging.Logger
	metrics MetricsRecorder
	kepler  *KeplerMotionModel

	bodies []bodySlot
	index  map[string]int
	belts  []*beltSlot
	tick   uint64

	// rescaled is set once an orbit scale change has been applied; from then
	// on every period comes from the third law.
	rescaled bool

	tickListeners []func(tick uint64)
	unsubscribe   []func()
}

type bodySlot struct {
	def    *model.BodyDefinition
	state  BodyState
	parent int // arena index, -1 for roots
	motion MotionModel
	mu     float64
}

type beltSlot struct {
	belt      *Belt
	positions []Vec3
}

// EngineOption configures a SimulationEngine.
type EngineOption func(*SimulationEngine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(se *SimulationEngine) { se.log = logging.OrNoop(l) }
}

// WithMetrics sets the engine metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(se *SimulationEngine) {
		if m != nil {
			se.metrics = m
		}
	}
}

// WithParams overrides DefaultParams.
func WithParams(p Params) EngineOption {
	return func(se *SimulationEngine) { se.params = p }
}

// NewSimulationEngine builds the body arena from store and subscribes to
// scale and knowledge base changes. Call Close to unsubscribe.
func NewSimulationEngine(store *kb.KnowledgeBase, scale *timectrl.ScaleModel, opts ...EngineOption) (*SimulationEngine, error) {
	if store == nil || scale == nil {
		return nil, errors.New("NewSimulationEngine: store and scale are required")
	}
	se := &SimulationEngine{
		store:   store,
		scale:   scale,
		params:  DefaultParams(),
		log:     logging.Noop(),
		metrics: NoopMetrics{},
		index:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(se)
	}
	if !(se.params.Mu > 0) {
		return nil, fmt.Errorf("NewSimulationEngine: mu must be positive, got %v", se.params.Mu)
	}
	se.kepler = NewKeplerMotionModel(se.params.Solver(), se.metrics)

	if err := se.rebuild(); err != nil {
		return nil, fmt.Errorf("NewSimulationEngine: %w", err)
	}

	se.unsubscribe = append(se.unsubscribe,
		scale.Subscribe(se.onScaleChange),
		store.Subscribe(se.onStoreChange),
	)
	for _, kind := range []timectrl.ScaleKind{timectrl.ScaleTime, timectrl.ScaleOrbit, timectrl.ScaleBody} {
		se.metrics.SetScale(kind.String(), scale.Value(kind))
	}
	return se, nil
}

// Close detaches the engine from the scale model and knowledge base.
func (se *SimulationEngine) Close() {
	se.mu.Lock()
	unsubs := se.unsubscribe
	se.unsubscribe = nil
	se.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

// rebuild recomputes the arena from the knowledge base, keeping the state
// of bodies that already existed.
func (se *SimulationEngine) rebuild() error {
	order, err := se.store.Order()
	if err != nil {
		return err
	}
	orbitScale := se.scale.OrbitScale()

	se.mu.Lock()
	defer se.mu.Unlock()

	bodies := make([]bodySlot, 0, len(order))
	index := make(map[string]int, len(order))
	for _, id := range order {
		def := se.store.GetBody(id)
		if def == nil {
			return fmt.Errorf("%w: %q", ErrUnknownBody, id)
		}
		slot, err := se.newSlot(def, orbitScale)
		if err != nil {
			return fmt.Errorf("body %q: %w", id, err)
		}
		if old, ok := se.index[id]; ok && se.bodies[old].def == def {
			slot.state = se.bodies[old].state
			slot.mu = se.bodies[old].mu
		}
		slot.parent = -1
		if def.ParentID != "" {
			slot.parent = index[def.ParentID]
		}
		index[id] = len(bodies)
		bodies = append(bodies, slot)
	}

	se.bodies = bodies
	se.index = index
	se.stepLocked(0, orbitScale)
	se.metrics.SetCounts(len(se.bodies), se.beltMembersLocked())
	return nil
}

func (se *SimulationEngine) newSlot(def *model.BodyDefinition, orbitScale float64) (bodySlot, error) {
	slot := bodySlot{
		def: def,
		state: BodyState{
			ID:       def.ID,
			Rotation: NormalizeAngle(def.StartRotation),
		},
	}
	if !def.Orbits() {
		slot.motion = &StaticMotionModel{Offset: def.Position}
		return slot, nil
	}

	el, err := model.NewOrbitalElementSet(def.Elements)
	if err != nil {
		return slot, err
	}
	slot.state.Elements = el
	slot.state.MeanAnomaly = NormalizeAngle(el.InitialAnomaly)
	slot.motion = se.kepler

	switch {
	case def.Mu > 0:
		slot.mu = def.Mu
	case def.CalibrateMu:
		slot.mu = CalibrateMu(el.SemiMajorAxis, se.scale.Limits().BaseOrbit, el.SiderealPeriod)
	default:
		slot.mu = se.params.Mu
	}
	if se.rescaled {
		if err := el.SetPeriod(ThirdLawPeriod(el.SemiMajorAxis, orbitScale, slot.mu)); err != nil {
			return slot, err
		}
	}
	return slot, nil
}

func (se *SimulationEngine) onStoreChange(e kb.Event) {
	if err := se.rebuild(); err != nil {
		// A child may arrive before its parent; the next change retries.
		se.log.Warn(context.Background(), "body set change not applied",
			logging.String("body", e.Body.ID), logging.Err(err))
	}
}

// onScaleChange runs synchronously inside the ScaleModel call that
// committed the change.
func (se *SimulationEngine) onScaleChange(c timectrl.ScaleChange) {
	se.metrics.SetScale(c.Kind.String(), c.Value)
	if c.Kind != timectrl.ScaleOrbit {
		return
	}

	se.mu.Lock()
	defer se.mu.Unlock()
	se.rescaled = true
	for i := range se.bodies {
		slot := &se.bodies[i]
		el := slot.state.Elements
		if el == nil {
			continue
		}
		if err := el.SetPeriod(ThirdLawPeriod(el.SemiMajorAxis, c.Value, slot.mu)); err != nil {
			se.log.Warn(context.Background(), "period not updated", logging.String("body", slot.def.ID), logging.Err(err))
		}
	}
	for _, b := range se.belts {
		b.belt.Rescale(c.Value, se.params.Mu)
	}
}

// AddBelt registers a generated belt for per-frame updates.
func (se *SimulationEngine) AddBelt(b *Belt) error {
	if b == nil || b.Name == "" {
		return fmt.Errorf("%w: nil belt or empty name", ErrInvalidBeltParams)
	}
	elapsed, orbitScale := se.scale.Elapsed(), se.scale.OrbitScale()

	se.mu.Lock()
	defer se.mu.Unlock()
	for _, existing := range se.belts {
		if existing.belt.Name == b.Name {
			return fmt.Errorf("%w: belt %q already registered", ErrInvalidBeltParams, b.Name)
		}
	}
	slot := &beltSlot{belt: b}
	slot.positions = b.Positions(elapsed, orbitScale, nil)
	se.belts = append(se.belts, slot)
	se.metrics.SetCounts(len(se.bodies), se.beltMembersLocked())
	return nil
}

// RegisterTickListener adds a callback run after every Tick, outside the
// engine lock.
func (se *SimulationEngine) RegisterTickListener(fn func(tick uint64)) {
	se.mu.Lock()
	defer se.mu.Unlock()
	se.tickListeners = append(se.tickListeners, fn)
}

// Tick advances the simulation by dt wall-clock seconds: elapsed time
// first, then bodies parent-first, then belts. It returns the simulated
// days that passed.
func (se *SimulationEngine) Tick(dt float64) float64 {
	start := time.Now()

	dtScaled := se.scale.Advance(dt)
	elapsed, orbitScale := se.scale.Elapsed(), se.scale.OrbitScale()

	se.mu.Lock()
	se.stepLocked(dtScaled, orbitScale)
	for _, b := range se.belts {
		b.positions = b.belt.Positions(elapsed, orbitScale, b.positions)
	}
	se.tick++
	tick := se.tick
	listeners := append([]func(uint64){}, se.tickListeners...)
	se.mu.Unlock()

	se.metrics.ObserveTick(time.Since(start))
	for _, fn := range listeners {
		fn(tick)
	}
	return dtScaled
}

func (se *SimulationEngine) stepLocked(dtScaled, orbitScale float64) {
	for i := range se.bodies {
		slot := &se.bodies[i]
		parent := Vec3{}
		if slot.parent >= 0 {
			parent = se.bodies[slot.parent].state.Position
		}
		slot.motion.Advance(&slot.state, dtScaled, orbitScale, parent)
		advanceRotation(&slot.state, dtScaled, slot.def.DayLength)
	}
}

func (se *SimulationEngine) beltMembersLocked() int {
	n := 0
	for _, b := range se.belts {
		n += b.belt.Len()
	}
	return n
}

// CurrentPosition returns the body's world position from the last tick.
func (se *SimulationEngine) CurrentPosition(id string) (Vec3, bool) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	i, ok := se.index[id]
	if !ok {
		return Vec3{}, false
	}
	return se.bodies[i].state.Position, true
}

// BodySize returns the body's diameter at the current body scale.
func (se *SimulationEngine) BodySize(id string) (float64, bool) {
	se.mu.RLock()
	i, ok := se.index[id]
	var size float64
	if ok {
		size = se.bodies[i].def.Size
	}
	se.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return size * se.scale.BodyScale(), true
}

// Rotation returns the body's spin angle.
func (se *SimulationEngine) Rotation(id string) (float64, bool) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	i, ok := se.index[id]
	if !ok {
		return 0, false
	}
	return se.bodies[i].state.Rotation, true
}

// Period returns the body's current orbital period in days.
func (se *SimulationEngine) Period(id string) (float64, bool) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	i, ok := se.index[id]
	if !ok || se.bodies[i].state.Elements == nil {
		return 0, false
	}
	return se.bodies[i].state.Elements.Period(), true
}

// Order returns body IDs in update order.
func (se *SimulationEngine) Order() []string {
	se.mu.RLock()
	defer se.mu.RUnlock()
	ids := make([]string, len(se.bodies))
	for i, slot := range se.bodies {
		ids[i] = slot.def.ID
	}
	return ids
}

// Belts returns the registered belts.
func (se *SimulationEngine) Belts() []*Belt {
	se.mu.RLock()
	defer se.mu.RUnlock()
	res := make([]*Belt, len(se.belts))
	for i, b := range se.belts {
		res[i] = b.belt
	}
	return res
}

// BeltPositions copies the positions of the named belt from the last tick
// into dst.
func (se *SimulationEngine) BeltPositions(name string, dst []Vec3) ([]Vec3, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	for _, b := range se.belts {
		if b.belt.Name == name {
			return append(dst[:0], b.positions...), nil
		}
	}
	return dst, fmt.Errorf("%w: %q", ErrUnknownBelt, name)
}

// Shape returns the outline of one belt member.
func (se *SimulationEngine) Shape(belt string, member int) (BeltShape, bool) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	for _, b := range se.belts {
		if b.belt.Name != belt {
			continue
		}
		if member < 0 || member >= len(b.belt.Members) {
			return nil, false
		}
		return b.belt.Members[member].Shape, true
	}
	return nil, false
}

// OrbitPath samples the body's full ellipse around its parent's current
// position, one point per step radians of mean anomaly. Static bodies have
// no path.
func (se *SimulationEngine) OrbitPath(id string, step float64) ([]Vec3, error) {
	if !(step > 0) {
		step = DefaultPathStep
	}
	step = max(step, MinPathStep)
	orbitScale := se.scale.OrbitScale()

	se.mu.RLock()
	defer se.mu.RUnlock()
	i, ok := se.index[id]
	if !ok {
		return nil, fmt.Errorf("OrbitPath: %w: %q", ErrUnknownBody, id)
	}
	slot := se.bodies[i]
	if slot.state.Elements == nil {
		return nil, nil
	}
	parent := Vec3{}
	if slot.parent >= 0 {
		parent = se.bodies[slot.parent].state.Position
	}

	n := int(math.Ceil(2 * math.Pi / step))
	path := make([]Vec3, 0, n+1)
	solverOnly := KeplerMotionModel{Solver: se.kepler.Solver}
	for k := 0; k <= n; k++ {
		m := math.Min(float64(k)*step, 2*math.Pi)
		path = append(path, parent.Add(solverOnly.Position(slot.state.Elements, m, orbitScale)))
	}
	return path, nil
}

// BodyFrame is one body in a Frame.
type BodyFrame struct {
	ID       string  `json:"id"`
	Position Vec3    `json:"position"`
	Size     float64 `json:"size"`
	Rotation float64 `json:"rotation"`
}

// BeltFrame is one belt in a Frame.
type BeltFrame struct {
	Name      string `json:"name"`
	Positions []Vec3 `json:"positions"`
}

// Frame is a consistent copy of the simulation after one tick.
type Frame struct {
	Tick       uint64      `json:"tick"`
	Elapsed    float64     `json:"elapsed_days"`
	Date       string      `json:"date"`
	JulianDate float64     `json:"julian_date"`
	TimeScale  float64     `json:"time_scale"`
	OrbitScale float64     `json:"orbit_scale"`
	BodyScale  float64     `json:"body_scale"`
	Paused     bool        `json:"paused"`
	Bodies     []BodyFrame `json:"bodies"`
	Belts      []BeltFrame `json:"belts,omitempty"`
}

// Snapshot copies the state of the last tick.
func (se *SimulationEngine) Snapshot() Frame {
	elapsed := se.scale.Elapsed()
	date := timectrl.SimDate(elapsed)
	f := Frame{
		Elapsed:    elapsed,
		Date:       timectrl.FormatDate(date),
		JulianDate: timectrl.JulianDate(date),
		TimeScale:  se.scale.LogicalTimeScale(),
		OrbitScale: se.scale.OrbitScale(),
		BodyScale:  se.scale.BodyScale(),
		Paused:     se.scale.Paused(),
	}

	se.mu.RLock()
	defer se.mu.RUnlock()
	f.Tick = se.tick
	f.Bodies = make([]BodyFrame, len(se.bodies))
	for i, slot := range se.bodies {
		f.Bodies[i] = BodyFrame{
			ID:       slot.def.ID,
			Position: slot.state.Position,
			Size:     slot.def.Size * f.BodyScale,
			Rotation: slot.state.Rotation,
		}
	}
	for _, b := range se.belts {
		f.Belts = append(f.Belts, BeltFrame{
			Name:      b.belt.Name,
			Positions: append([]Vec3(nil), b.positions...),
		})
	}
	return f
}
