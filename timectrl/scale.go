package timectrl

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidLimits is returned by NewScaleModel for inconsistent bounds.
var ErrInvalidLimits = errors.New("invalid scale limits")

// ScaleKind selects one of the three live-adjustable factors.
type ScaleKind int

const (
	ScaleTime ScaleKind = iota
	ScaleOrbit
	ScaleBody
)

func (k ScaleKind) String() string {
	switch k {
	case ScaleTime:
		return "time"
	case ScaleOrbit:
		return "orbit"
	case ScaleBody:
		return "body"
	default:
		return fmt.Sprintf("ScaleKind(%d)", int(k))
	}
}

// ParseScaleKind maps "time", "orbit" or "body" to a ScaleKind.
func ParseScaleKind(s string) (ScaleKind, error) {
	switch s {
	case "time":
		return ScaleTime, nil
	case "orbit":
		return ScaleOrbit, nil
	case "body":
		return ScaleBody, nil
	default:
		return 0, fmt.Errorf("unknown scale kind %q", s)
	}
}

// ScaleLimits holds the base values and clamp bounds of a ScaleModel.
type ScaleLimits struct {
	BaseTime  float64
	BaseOrbit float64
	BaseBody  float64

	MinTime float64
	MaxTime float64

	// MinDefault and MaxDefault bound both the orbit and body factors.
	MinDefault float64
	MaxDefault float64
}

// DefaultScaleLimits returns the stock bounds: time in [1e-3, 500] starting at
// 0.5, orbit and body in [1e-4, 1] starting at 1e-4 and 1e-2.
func DefaultScaleLimits() ScaleLimits {
	return ScaleLimits{
		BaseTime:   0.5,
		BaseOrbit:  1e-4,
		BaseBody:   1e-2,
		MinTime:    1e-3,
		MaxTime:    500,
		MinDefault: 1e-4,
		MaxDefault: 1.0,
	}
}

// Validate checks that every bound is positive and every base value lies
// within its bounds.
func (l ScaleLimits) Validate() error {
	if !(l.MinTime > 0) || !(l.MinTime <= l.MaxTime) {
		return fmt.Errorf("%w: time bounds [%v, %v]", ErrInvalidLimits, l.MinTime, l.MaxTime)
	}
	if !(l.MinDefault > 0) || !(l.MinDefault <= l.MaxDefault) {
		return fmt.Errorf("%w: default bounds [%v, %v]", ErrInvalidLimits, l.MinDefault, l.MaxDefault)
	}
	if l.BaseTime < l.MinTime || l.BaseTime > l.MaxTime {
		return fmt.Errorf("%w: base time %v outside [%v, %v]", ErrInvalidLimits, l.BaseTime, l.MinTime, l.MaxTime)
	}
	for _, base := range []float64{l.BaseOrbit, l.BaseBody} {
		if base < l.MinDefault || base > l.MaxDefault {
			return fmt.Errorf("%w: base %v outside [%v, %v]", ErrInvalidLimits, base, l.MinDefault, l.MaxDefault)
		}
	}
	return nil
}

// ScaleChange is delivered to subscribers after a factor has been committed.
type ScaleChange struct {
	Kind  ScaleKind
	Value float64
}

// ScaleModel owns the time, orbit and body factors, the pause state and
// the elapsed simulation time in days. All factors stay inside their clamp
// bounds at all times.
//
// Subscribers are called synchronously, in subscription order, after the
// change is visible and with no lock held, so a subscriber may read the
// model back.
type ScaleModel struct {
	mu     sync.RWMutex
	limits ScaleLimits

	timeScale  float64
	orbitScale float64
	bodyScale  float64

	paused         bool
	savedTimeScale float64

	elapsed float64

	subs   []scaleSubscription
	nextID int
}

type scaleSubscription struct {
	id int
	fn func(ScaleChange)
}

// NewScaleModel constructs a model at its base values.
func NewScaleModel(limits ScaleLimits) (*ScaleModel, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &ScaleModel{
		limits:     limits,
		timeScale:  limits.BaseTime,
		orbitScale: limits.BaseOrbit,
		bodyScale:  limits.BaseBody,
	}, nil
}

// Limits returns the bounds the model was built with.
func (m *ScaleModel) Limits() ScaleLimits {
	return m.limits
}

// TimeScale returns the current simulated days per wall-clock second.
func (m *ScaleModel) TimeScale() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeScale
}

// OrbitScale returns the current orbital distance factor.
func (m *ScaleModel) OrbitScale() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orbitScale
}

// BodyScale returns the current body size factor.
func (m *ScaleModel) BodyScale() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bodyScale
}

// Value returns the factor selected by kind.
func (m *ScaleModel) Value(kind ScaleKind) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f := m.fieldLocked(kind); f != nil {
		return *f
	}
	return 0
}

// Paused reports whether time is frozen.
func (m *ScaleModel) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// LogicalTimeScale returns the rate that will be in effect once unpaused.
func (m *ScaleModel) LogicalTimeScale() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.paused {
		return m.savedTimeScale
	}
	return m.timeScale
}

// Elapsed returns the simulated days since the model was created.
func (m *ScaleModel) Elapsed() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.elapsed
}

// Advance moves elapsed time forward by dt wall-clock seconds and returns
// the simulated days that passed. Paused models and negative or non-finite
// dt advance nothing.
func (m *ScaleModel) Advance(dt float64) float64 {
	if !(dt > 0) || math.IsInf(dt, 1) {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return 0
	}
	scaled := dt * m.timeScale
	m.elapsed += scaled
	return scaled
}

// ApplyDelta sets the selected factor to old·(1+delta), clamped. Time
// changes are ignored while paused. It returns the committed value and
// whether a notification was sent.
func (m *ScaleModel) ApplyDelta(kind ScaleKind, delta float64) (float64, bool) {
	m.mu.Lock()
	field := m.fieldLocked(kind)
	if field == nil || math.IsNaN(delta) {
		m.mu.Unlock()
		return 0, false
	}
	if kind == ScaleTime && m.paused {
		v := *field
		m.mu.Unlock()
		return v, false
	}
	lo, hi := m.boundsLocked(kind)
	*field = clamp(*field*(1+delta), lo, hi)
	change := ScaleChange{Kind: kind, Value: *field}
	subs := m.snapshotSubsLocked()
	m.mu.Unlock()

	notifyScale(subs, change)
	return change.Value, true
}

// Pause freezes time when on is true and restores the saved rate when on is
// false. Repeating the current state does nothing.
func (m *ScaleModel) Pause(on bool) {
	m.mu.Lock()
	if m.paused == on {
		m.mu.Unlock()
		return
	}
	if on {
		m.savedTimeScale = m.timeScale
		m.timeScale = m.limits.MinTime
	} else {
		m.timeScale = m.savedTimeScale
	}
	m.paused = on
	change := ScaleChange{Kind: ScaleTime, Value: m.timeScale}
	subs := m.snapshotSubsLocked()
	m.mu.Unlock()

	notifyScale(subs, change)
}

// Reset restores the base values, unpauses and notifies once per factor.
// Elapsed time is kept.
func (m *ScaleModel) Reset() {
	m.mu.Lock()
	m.paused = false
	m.savedTimeScale = 0
	m.timeScale = m.limits.BaseTime
	m.orbitScale = m.limits.BaseOrbit
	m.bodyScale = m.limits.BaseBody
	changes := []ScaleChange{
		{Kind: ScaleTime, Value: m.timeScale},
		{Kind: ScaleOrbit, Value: m.orbitScale},
		{Kind: ScaleBody, Value: m.bodyScale},
	}
	subs := m.snapshotSubsLocked()
	m.mu.Unlock()

	for _, c := range changes {
		notifyScale(subs, c)
	}
}

// Subscribe registers fn for every committed change. It returns an
// unsubscribe function.
func (m *ScaleModel) Subscribe(fn func(ScaleChange)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, scaleSubscription{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *ScaleModel) fieldLocked(kind ScaleKind) *float64 {
	switch kind {
	case ScaleTime:
		return &m.timeScale
	case ScaleOrbit:
		return &m.orbitScale
	case ScaleBody:
		return &m.bodyScale
	default:
		return nil
	}
}

func (m *ScaleModel) boundsLocked(kind ScaleKind) (float64, float64) {
	if kind == ScaleTime {
		return m.limits.MinTime, m.limits.MaxTime
	}
	return m.limits.MinDefault, m.limits.MaxDefault
}

func (m *ScaleModel) snapshotSubsLocked() []scaleSubscription {
	return append([]scaleSubscription(nil), m.subs...)
}

func notifyScale(subs []scaleSubscription, c ScaleChange) {
	for _, s := range subs {
		s.fn(c)
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
