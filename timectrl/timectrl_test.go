package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestTimeControllerRunsForDuration(t *testing.T) {
	tc := NewTimeController(5*time.Millisecond, Accelerated)

	var total time.Duration
	tc.AddListener(func(dt time.Duration) { total += dt })

	<-tc.Start(context.Background(), 15*time.Millisecond)

	if got := tc.Frames(); got != 3 {
		t.Fatalf("Frames() = %d, want 3", got)
	}
	if total != 15*time.Millisecond {
		t.Fatalf("listener saw %v, want 15ms", total)
	}
}

func TestTimeControllerRealTimeStopsOnCancel(t *testing.T) {
	tc := NewTimeController(time.Millisecond, RealTime)
	ctx, cancel := context.WithCancel(context.Background())

	frames := make(chan struct{}, 1)
	tc.AddListener(func(time.Duration) {
		select {
		case frames <- struct{}{}:
		default:
		}
	})

	done := tc.Start(ctx, 0)
	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame emitted")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not stop after cancel")
	}
}

func TestTimeControllerFeedsScaleModel(t *testing.T) {
	m, err := NewScaleModel(DefaultScaleLimits())
	if err != nil {
		t.Fatalf("NewScaleModel: %v", err)
	}
	tc := NewTimeController(500*time.Millisecond, Accelerated)
	tc.AddListener(func(dt time.Duration) { m.Advance(dt.Seconds()) })

	<-tc.Start(context.Background(), 4*time.Second)

	// 4 wall-clock seconds at 0.5 days per second.
	if got := m.Elapsed(); got != 2 {
		t.Fatalf("Elapsed() = %v, want 2", got)
	}
}
