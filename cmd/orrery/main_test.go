package main

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/orrery/internal/logging"
)

func testConfig() Config {
	return Config{
		SystemPath:  "../../configs/solar_system.json",
		Duration:    time.Second,
		Tick:        10 * time.Millisecond,
		Accelerated: true,
		Seed:        7,
		ReportEvery: 50,
	}
}

func TestRunAcceleratedReferenceSystem(t *testing.T) {
	reg := prometheus.NewRegistry()
	res, err := run(context.Background(), testConfig(), logging.Noop(), reg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Frames != 100 || res.Last.Tick != 100 {
		t.Fatalf("frames = %d, tick = %d, want 100", res.Frames, res.Last.Tick)
	}
	// 100 frames of 10ms at the default time scale of 0.5 days per second.
	if math.Abs(res.Last.Elapsed-0.5) > 1e-9 {
		t.Fatalf("elapsed = %v days, want 0.5", res.Last.Elapsed)
	}
	if len(res.Last.Bodies) != 10 {
		t.Fatalf("got %d bodies, want 10", len(res.Last.Bodies))
	}
	if len(res.Last.Belts) != 1 || len(res.Last.Belts[0].Positions) != 1024 {
		t.Fatalf("belt frames = %+v", len(res.Last.Belts))
	}

	var ticks float64
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "orrery_ticks_total" {
			ticks = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if ticks != 100 {
		t.Fatalf("orrery_ticks_total = %v, want 100", ticks)
	}
	if n := testutil.CollectAndCount(reg, "orrery_belt_members"); n != 1 {
		t.Fatalf("orrery_belt_members series = %d, want 1", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Duration = 0
	cfg.Accelerated = false
	cfg.ReportEvery = 0

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := run(ctx, cfg, nil, prometheus.NewRegistry())
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	cfg := testConfig()
	cfg.SystemPath = "does-not-exist.json"
	if _, err := run(context.Background(), cfg, nil, prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected error for missing system file")
	}

	cfg = testConfig()
	cfg.Tick = 0
	if _, err := run(context.Background(), cfg, nil, prometheus.NewRegistry()); err == nil {
		t.Fatalf("expected error for zero tick")
	}
}
