package timectrl

import (
	"errors"
	"math"
	"testing"
)

func newTestScaleModel(t *testing.T) *ScaleModel {
	t.Helper()
	m, err := NewScaleModel(DefaultScaleLimits())
	if err != nil {
		t.Fatalf("NewScaleModel: %v", err)
	}
	return m
}

func TestNewScaleModelStartsAtBase(t *testing.T) {
	m := newTestScaleModel(t)
	if got := m.TimeScale(); got != 0.5 {
		t.Fatalf("TimeScale() = %v, want 0.5", got)
	}
	if got := m.OrbitScale(); got != 1e-4 {
		t.Fatalf("OrbitScale() = %v, want 1e-4", got)
	}
	if got := m.BodyScale(); got != 1e-2 {
		t.Fatalf("BodyScale() = %v, want 1e-2", got)
	}
	if m.Paused() {
		t.Fatalf("new model is paused")
	}
}

func TestNewScaleModelRejectsBadLimits(t *testing.T) {
	cases := map[string]func(*ScaleLimits){
		"zero min time":     func(l *ScaleLimits) { l.MinTime = 0 },
		"inverted time":     func(l *ScaleLimits) { l.MaxTime = l.MinTime / 2 },
		"inverted default":  func(l *ScaleLimits) { l.MinDefault = 2 },
		"base time outside": func(l *ScaleLimits) { l.BaseTime = 1000 },
		"base body outside": func(l *ScaleLimits) { l.BaseBody = 5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			l := DefaultScaleLimits()
			mutate(&l)
			if _, err := NewScaleModel(l); !errors.Is(err, ErrInvalidLimits) {
				t.Fatalf("NewScaleModel error = %v, want ErrInvalidLimits", err)
			}
		})
	}
}

func TestApplyDeltaStaysWithinBounds(t *testing.T) {
	deltas := []float64{-0.99, -0.5, -0.1, 0, 0.1, 1, 10, 1e3, 1e6}
	limits := DefaultScaleLimits()
	for _, kind := range []ScaleKind{ScaleTime, ScaleOrbit, ScaleBody} {
		m := newTestScaleModel(t)
		lo, hi := limits.MinDefault, limits.MaxDefault
		if kind == ScaleTime {
			lo, hi = limits.MinTime, limits.MaxTime
		}
		for i := 0; i < 50; i++ {
			d := deltas[i%len(deltas)]
			got, _ := m.ApplyDelta(kind, d)
			if got < lo || got > hi {
				t.Fatalf("%s after delta %v = %v, outside [%v, %v]", kind, d, got, lo, hi)
			}
			if v := m.Value(kind); v != got {
				t.Fatalf("Value(%s) = %v, ApplyDelta returned %v", kind, v, got)
			}
		}
	}
}

func TestApplyDeltaClampsAtBounds(t *testing.T) {
	m := newTestScaleModel(t)
	if got, _ := m.ApplyDelta(ScaleTime, 1e6); got != 500 {
		t.Fatalf("time after huge delta = %v, want 500", got)
	}
	if got, _ := m.ApplyDelta(ScaleOrbit, -0.99); got != 1e-4 {
		t.Fatalf("orbit below floor = %v, want 1e-4", got)
	}
}

func TestOrbitDoubledTwice(t *testing.T) {
	m := newTestScaleModel(t)

	var changes []ScaleChange
	m.Subscribe(func(c ScaleChange) { changes = append(changes, c) })

	m.ApplyDelta(ScaleOrbit, 1)
	m.ApplyDelta(ScaleOrbit, 1)

	if got := m.OrbitScale(); math.Abs(got-4e-4) > 1e-18 {
		t.Fatalf("OrbitScale() = %v, want 4e-4", got)
	}
	if len(changes) != 2 {
		t.Fatalf("got %d notifications, want 2", len(changes))
	}
	if changes[0].Kind != ScaleOrbit || math.Abs(changes[0].Value-2e-4) > 1e-18 {
		t.Fatalf("first notification = %+v, want orbit 2e-4", changes[0])
	}
}

func TestPauseRoundTrip(t *testing.T) {
	m := newTestScaleModel(t)
	m.ApplyDelta(ScaleTime, 0.37)
	before := m.TimeScale()

	var changes []ScaleChange
	m.Subscribe(func(c ScaleChange) { changes = append(changes, c) })

	m.Pause(true)
	if got := m.TimeScale(); got != m.Limits().MinTime {
		t.Fatalf("paused TimeScale() = %v, want %v", got, m.Limits().MinTime)
	}
	if got := m.LogicalTimeScale(); got != before {
		t.Fatalf("LogicalTimeScale() = %v, want %v", got, before)
	}

	// Time deltas and repeated pauses must not disturb the saved rate.
	if _, notified := m.ApplyDelta(ScaleTime, 3); notified {
		t.Fatalf("time delta while paused was committed")
	}
	m.Pause(true)

	m.Pause(false)
	if got := m.TimeScale(); got != before {
		t.Fatalf("TimeScale() after unpause = %v, want exactly %v", got, before)
	}
	if len(changes) != 2 {
		t.Fatalf("got %d notifications, want 2 (pause, unpause)", len(changes))
	}
	if changes[1].Kind != ScaleTime || changes[1].Value != before {
		t.Fatalf("unpause notification = %+v, want time %v", changes[1], before)
	}
}

func TestPausedAllowsOrbitAndBodyChanges(t *testing.T) {
	m := newTestScaleModel(t)
	m.Pause(true)
	if _, notified := m.ApplyDelta(ScaleBody, 1); !notified {
		t.Fatalf("body delta while paused was suppressed")
	}
	if got := m.BodyScale(); math.Abs(got-2e-2) > 1e-15 {
		t.Fatalf("BodyScale() = %v, want 2e-2", got)
	}
}

func TestAdvance(t *testing.T) {
	m := newTestScaleModel(t)

	if got := m.Advance(2); got != 1 {
		t.Fatalf("Advance(2) = %v, want 1 day at time scale 0.5", got)
	}
	for _, dt := range []float64{-1, math.NaN(), math.Inf(1), 0} {
		if got := m.Advance(dt); got != 0 {
			t.Fatalf("Advance(%v) = %v, want 0", dt, got)
		}
	}
	m.Pause(true)
	if got := m.Advance(10); got != 0 {
		t.Fatalf("Advance while paused = %v, want 0", got)
	}
	if got := m.Elapsed(); got != 1 {
		t.Fatalf("Elapsed() = %v, want 1", got)
	}
}

func TestSubscribersRunInOrderAndUnsubscribe(t *testing.T) {
	m := newTestScaleModel(t)

	var calls []string
	m.Subscribe(func(ScaleChange) { calls = append(calls, "first") })
	unsubscribe := m.Subscribe(func(ScaleChange) { calls = append(calls, "second") })
	m.Subscribe(func(c ScaleChange) {
		// Reading back from inside a notification must not deadlock.
		if m.Value(c.Kind) != c.Value {
			t.Errorf("subscriber saw stale value")
		}
		calls = append(calls, "third")
	})

	m.ApplyDelta(ScaleBody, 0.5)
	want := []string{"first", "second", "third"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}

	calls = nil
	unsubscribe()
	m.ApplyDelta(ScaleBody, 0.5)
	if len(calls) != 2 {
		t.Fatalf("calls after unsubscribe = %v, want 2 entries", calls)
	}
}

func TestResetRestoresBase(t *testing.T) {
	m := newTestScaleModel(t)
	m.ApplyDelta(ScaleOrbit, 5)
	m.ApplyDelta(ScaleBody, 5)
	m.Advance(4)
	m.Pause(true)

	var kinds []ScaleKind
	m.Subscribe(func(c ScaleChange) { kinds = append(kinds, c.Kind) })
	m.Reset()

	if m.Paused() || m.TimeScale() != 0.5 || m.OrbitScale() != 1e-4 || m.BodyScale() != 1e-2 {
		t.Fatalf("Reset left paused=%v time=%v orbit=%v body=%v", m.Paused(), m.TimeScale(), m.OrbitScale(), m.BodyScale())
	}
	if len(kinds) != 3 {
		t.Fatalf("Reset sent %d notifications, want 3", len(kinds))
	}
	if got := m.Elapsed(); got != 2 {
		t.Fatalf("Elapsed() after Reset = %v, want 2", got)
	}
}

func TestParseScaleKind(t *testing.T) {
	for _, k := range []ScaleKind{ScaleTime, ScaleOrbit, ScaleBody} {
		got, err := ParseScaleKind(k.String())
		if err != nil || got != k {
			t.Fatalf("ParseScaleKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseScaleKind("zoom"); err == nil {
		t.Fatalf("ParseScaleKind(zoom) returned nil error")
	}
}
