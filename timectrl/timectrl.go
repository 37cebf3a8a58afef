package timectrl

import (
	"context"
	"sync"
	"time"
)

// Mode describes how the TimeController paces frames.
type Mode int

const (
	// RealTime emits one frame per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated emits frames back to back while still reporting Tick as
	// the frame duration.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController drives the frame loop and hands each listener the
// wall-clock duration of the frame. Scaling that duration into simulated
// days is the ScaleModel's job.
type TimeController struct {
	mu     sync.RWMutex
	Tick   time.Duration
	Mode   Mode
	frames uint64

	listeners []func(dt time.Duration)
}

// NewTimeController constructs a controller.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		Tick: tick,
		Mode: mode,
	}
}

// AddListener registers a callback invoked on every frame. Listeners run
// on the controller goroutine in registration order.
func (tc *TimeController) AddListener(fn func(dt time.Duration)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Frames returns how many frames have been emitted.
func (tc *TimeController) Frames() uint64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.frames
}

// Start runs the controller in a separate goroutine until duration of frame
// time has been emitted (0 runs until ctx is cancelled). It returns a
// channel that is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var tickC <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tickC = ticker.C
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			if tickC != nil {
				select {
				case <-ctx.Done():
					return
				case <-tickC:
				}
			} else if ctx.Err() != nil {
				return
			}
			elapsed += tc.Tick

			tc.mu.Lock()
			tc.frames++
			listeners := append([]func(time.Duration){}, tc.listeners...)
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(tc.Tick)
			}
		}
	}()
	return done
}
