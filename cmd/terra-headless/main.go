package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"terra/internal/config"
	"terra/internal/core"
	"terra/internal/sims/stack"
	"terra/internal/snapshot"
)

func main() {
	var flags config.Flags
	flags.Bind(flag.CommandLine)
	ticks := flag.Int("ticks", 1000, "steps to simulate")
	every := flag.Int("log", 100, "log a summary every n steps (0 disables)")
	record := flag.String("record", "", "write a snapshot stream to this path (overrides record.path)")
	inject := flag.Int("inject", 0, "hold the injector at the grid centre for the first n steps")
	replay := flag.String("replay", "", "print the frames of a snapshot stream and exit")
	flag.Parse()

	logger := log.New(os.Stdout, "[terra] ", log.LstdFlags|log.Lmicroseconds)

	if *replay != "" {
		if err := replayStream(logger, *replay); err != nil {
			logger.Fatal(err)
		}
		return
	}

	cfg, err := flags.Config()
	if err != nil {
		logger.Fatal(err)
	}
	if *record != "" {
		cfg.Record.Path = *record
	}
	if err := run(logger, cfg, *ticks, *every, *inject); err != nil {
		logger.Fatal(err)
	}
}

func run(logger *log.Logger, cfg config.Config, ticks, every, inject int) (err error) {
	m, err := stack.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()

	var rec *snapshot.Recorder
	if cfg.Record.Path != "" {
		rec, err = snapshot.Create(cfg.Record.Path, snapshot.Header{
			N:       cfg.N,
			Dx:      cfg.CellSize(),
			Dt:      cfg.Dt,
			Seed:    cfg.Seed,
			Sampler: cfg.Terrain.Sampler,
			Preset:  cfg.Fluid.Preset,
			Every:   cfg.Record.Every,
		})
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rec.Close(); err == nil {
				err = cerr
			}
			logger.Printf("wrote %d frames to %s", rec.Frames(), cfg.Record.Path)
		}()
	}

	centre := core.GridPoint{Col: cfg.N / 2, Row: cfg.N / 2}
	logger.Printf("n=%d dt=%g terrain=%s preset=%s seed=%d", cfg.N, cfg.Dt, cfg.Terrain.Sampler, cfg.Fluid.Preset, cfg.Seed)
	step := m.Settings().StepDuration()
	for i := 0; i < ticks; i++ {
		if i < inject {
			m.Injector().Press(centre, false)
		} else {
			m.Injector().Release()
		}
		if _, err := m.Advance(step); err != nil {
			return err
		}
		tick := m.Tick()
		if rec != nil && tick%uint64(cfg.Record.Every) == 0 {
			f := m.Fluid()
			frame := snapshot.Capture(tick, m.Terrain().HeightField(), f.HeightField(), f.SedimentField(), m.Telemetry().Mass)
			if err := rec.Write(frame); err != nil {
				return err
			}
		}
		if every > 0 && tick%uint64(every) == 0 {
			logger.Print(m.Telemetry().Summary())
		}
	}
	logger.Print(m.Telemetry().Summary())
	return nil
}

func replayStream(logger *log.Logger, path string) error {
	r, err := snapshot.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	h := r.Header()
	logger.Printf("%s: n=%d dt=%g terrain=%s preset=%s every=%d", path, h.N, h.Dt, h.Sampler, h.Preset, h.Every)
	for {
		fr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%8d volume=%.6f sediment=%.6f eroded=%.6f deposited=%.6f vmax=%.3f\n",
			fr.Tick, fr.Mass.Volume, fr.Mass.Sediment, fr.Mass.Eroded, fr.Mass.Deposited, fr.Mass.MaxSpeed)
	}
}
