// Command orrery runs the scaled planetary system simulation, logging
// progress and optionally serving Prometheus metrics and a websocket
// frame stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/internal/observability"
	"github.com/signalsfoundry/orrery/internal/stream"
	"github.com/signalsfoundry/orrery/kb"
	"github.com/signalsfoundry/orrery/timectrl"
)

// Config holds the command line settings.
type Config struct {
	SystemPath  string
	Duration    time.Duration
	Tick        time.Duration
	Accelerated bool
	Seed        uint64
	MetricsAddr string
	StreamAddr  string
	FrameRate   float64
	ReportEvery int
}

// result summarises a finished run.
type result struct {
	Frames uint64
	Last   core.Frame
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.SystemPath, "system", "configs/solar_system.json", "path to the JSON system description")
	flag.DurationVar(&cfg.Duration, "duration", 0, "total frame time to simulate (0 runs until interrupted)")
	flag.DurationVar(&cfg.Tick, "tick", time.Second/60, "frame interval")
	flag.BoolVar(&cfg.Accelerated, "accelerated", false, "emit frames back to back instead of on a wall-clock ticker")
	flag.Uint64Var(&cfg.Seed, "seed", 1, "seed for belt generation")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.StreamAddr, "ws-addr", "", "HTTP address for the websocket frame stream at /ws (empty disables)")
	flag.Float64Var(&cfg.FrameRate, "frame-rate", stream.DefaultFrameRate, "maximum frames per second pushed to stream clients")
	flag.IntVar(&cfg.ReportEvery, "report-every", 600, "log body positions every N frames (0 disables)")
	flag.Parse()

	ctx, log := logging.WithRunLogger(context.Background(), logging.NewFromEnv())

	tracing := observability.TracingConfigFromEnv()
	tracing.RunID = logging.RunIDFromContext(ctx)
	tracing.SystemPath = cfg.SystemPath
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log.Info(ctx, "starting orrery", logging.String("system", cfg.SystemPath))
	res, err := run(stopCtx, cfg, log, nil)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "simulation complete",
		logging.Int("frames", int(res.Frames)),
		logging.Float("elapsed_days", res.Last.Elapsed),
		logging.String("date", res.Last.Date),
	)
}

// run loads the system, generates belts and drives the engine until the
// configured duration elapses or ctx is cancelled.
func run(ctx context.Context, cfg Config, log logging.Logger, reg prometheus.Registerer) (result, error) {
	log = logging.OrNoop(log)
	if cfg.Tick <= 0 {
		return result{}, fmt.Errorf("tick must be positive, got %s", cfg.Tick)
	}

	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return result{}, fmt.Errorf("metrics collector: %w", err)
	}

	store := kb.NewKnowledgeBase()
	f, err := os.Open(cfg.SystemPath)
	if err != nil {
		return result{}, fmt.Errorf("open system %q: %w", cfg.SystemPath, err)
	}
	sys, err := core.LoadSystem(ctx, store, f)
	f.Close()
	if err != nil {
		return result{}, err
	}

	scale, err := timectrl.NewScaleModel(sys.Params.Scale)
	if err != nil {
		return result{}, err
	}
	engine, err := core.NewSimulationEngine(store, scale,
		core.WithLogger(log),
		core.WithMetrics(collector),
		core.WithParams(sys.Params),
	)
	if err != nil {
		return result{}, err
	}
	defer engine.Close()

	gen := core.NewBeltGenerator(cfg.Seed, core.WithBeltLogger(log), core.WithBeltMetrics(collector))
	for _, bp := range sys.Belts {
		belt, report, err := gen.Generate(ctx, bp, scale.OrbitScale(), sys.Params.Mu)
		if err != nil {
			return result{}, fmt.Errorf("generate belt %q: %w", bp.Name, err)
		}
		if err := engine.AddBelt(belt); err != nil {
			return result{}, err
		}
		log.Info(ctx, "belt generated",
			logging.String("belt", bp.Name),
			logging.Int("members", report.Members),
			logging.Int("exhausted", len(report.ExhaustedMembers)),
			logging.Int("max_attempts_used", report.MaxAttemptsUsed),
		)
	}
	log.Info(ctx, "system loaded",
		logging.Int("bodies", len(sys.BodyIDs)),
		logging.Int("belts", len(sys.Belts)),
		logging.Float("mu", sys.Params.Mu),
	)

	var servers []*http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		servers = append(servers, serve(cfg.MetricsAddr, mux, "metrics", log))
	}
	var hub *stream.Hub
	if cfg.StreamAddr != "" {
		hub = stream.NewHub(scale,
			stream.WithHubLogger(log),
			stream.WithClientGauge(collector),
			stream.WithFrameRate(cfg.FrameRate),
		)
		defer hub.Close()
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		servers = append(servers, serve(cfg.StreamAddr, mux, "stream", log))
		engine.RegisterTickListener(func(uint64) {
			if hub.ClientCount() > 0 {
				hub.Broadcast(ctx, engine.Snapshot())
			}
		})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
	}()

	if cfg.ReportEvery > 0 {
		every := uint64(cfg.ReportEvery)
		engine.RegisterTickListener(func(tick uint64) {
			if tick%every == 0 {
				report(ctx, log, engine.Snapshot())
			}
		})
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(cfg.Tick, mode)
	tc.AddListener(func(dt time.Duration) {
		engine.Tick(dt.Seconds())
	})

	log.Info(ctx, "starting simulation",
		logging.Duration("duration", cfg.Duration),
		logging.Duration("tick", cfg.Tick),
		logging.String("mode", mode.String()),
	)
	<-tc.Start(ctx, cfg.Duration)

	return result{Frames: tc.Frames(), Last: engine.Snapshot()}, nil
}

func serve(addr string, handler http.Handler, name string, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), name+" server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving "+name, logging.String("addr", addr))
	return srv
}

func report(ctx context.Context, log logging.Logger, f core.Frame) {
	fields := []logging.Field{
		logging.Int("tick", int(f.Tick)),
		logging.String("date", f.Date),
		logging.Float("time_scale", f.TimeScale),
		logging.Bool("paused", f.Paused),
	}
	for _, b := range f.Bodies {
		fields = append(fields, logging.String(b.ID, fmt.Sprintf("(%.2f, %.2f, %.2f)", b.Position.X, b.Position.Y, b.Position.Z)))
	}
	log.Info(ctx, "frame", fields...)
}
