package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"terra/internal/config"
	"terra/internal/sims/stack"
	"terra/internal/stream"
)

func main() {
	var flags config.Flags
	flags.Bind(flag.CommandLine)
	addr := flag.String("addr", "", "listen address (overrides stream.addr)")
	flag.Parse()

	logger := log.New(os.Stdout, "[terra-serve] ", log.LstdFlags|log.Lmicroseconds)
	cfg, err := flags.Config()
	if err != nil {
		logger.Fatal(err)
	}
	if *addr != "" {
		cfg.Stream.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, logger, cfg); err != nil {
		logger.Fatal(err)
	}
}

func serve(ctx context.Context, logger *log.Logger, cfg config.Config) (err error) {
	m, err := stack.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()

	hub := stream.NewHub(logger)
	// The manager belongs to loop; handlers only read what it publishes.
	var tick atomic.Uint64
	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler())
	mux.HandleFunc("/healthz", health(&tick, hub))
	srv := &http.Server{Addr: cfg.Stream.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s (n=%d terrain=%s preset=%s)", cfg.Stream.Addr, cfg.N, cfg.Terrain.Sampler, cfg.Fluid.Preset)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
	g.Go(func() error { return loop(gctx, logger, m, hub, cfg, &tick) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func health(tick *atomic.Uint64, hub *stream.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":      true,
			"tick":    tick.Load(),
			"viewers": hub.Clients(),
			"dropped": hub.Dropped(),
		})
	}
}

// loop steps the session against the wall clock and broadcasts every
// stream.every ticks.
func loop(ctx context.Context, logger *log.Logger, m *stack.Manager, hub *stream.Hub, cfg config.Config, tick *atomic.Uint64) error {
	ticker := time.NewTicker(m.Settings().StepDuration())
	defer ticker.Stop()
	every := uint64(cfg.Stream.Every)
	lastSent := m.Tick()
	lastLog := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := m.Update(); err != nil {
			return err
		}
		tick.Store(m.Tick())
		if m.Tick()-lastSent >= every {
			lastSent = m.Tick()
			f := m.Fluid()
			msg := stream.NewFrame(m.Tick(), m.Terrain().HeightField(), f.HeightField(), m.Telemetry().Mass, cfg.Stream.Downsample)
			if err := hub.Broadcast(msg); err != nil {
				return err
			}
		}
		if time.Since(lastLog) >= 10*time.Second {
			lastLog = time.Now()
			logger.Print(m.Telemetry().Summary())
		}
	}
}
