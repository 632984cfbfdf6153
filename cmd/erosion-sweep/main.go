package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"text/tabwriter"

	"terra/internal/config"
	"terra/internal/sims/fluid"
	"terra/internal/sweep"
)

// axes collects repeatable key=v1,v2,... flags.
type axes map[string][]string

func (a axes) String() string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, k+"="+strings.Join(v, ","))
	}
	return strings.Join(parts, " ")
}

func (a axes) Set(value string) error {
	key, list, ok := strings.Cut(value, "=")
	if !ok || list == "" {
		return fmt.Errorf("want key=v1,v2,... got %q", value)
	}
	a[strings.TrimSpace(key)] = strings.Split(list, ",")
	return nil
}

func main() {
	var flags config.Flags
	flags.Bind(flag.CommandLine)
	steps := flag.Int("steps", 600, "ticks to simulate per candidate")
	inject := flag.Int("inject", 300, "ticks the centre injector stays on")
	workers := flag.Int("workers", runtime.NumCPU(), "parallel candidate evaluations")
	presets := flag.String("presets", strings.Join(fluid.PresetNames(), ","), "comma separated fluid presets")
	top := flag.Int("top", 10, "rows to print (0 prints all)")
	sweepAxes := axes{}
	flag.Var(sweepAxes, "vary", "config key and values to sweep, e.g. fluid.capacity=0.5,1,2 (repeatable)")
	flag.Parse()

	base, err := flags.Config()
	if err != nil {
		log.Fatal(err)
	}
	candidates := sweep.Grid(strings.Split(*presets, ","), sweepAxes)
	fmt.Printf("Sweeping %d candidates on a %d grid (%s), %d steps each, %d workers\n",
		len(candidates), base.N, base.Terrain.Sampler, *steps, *workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	results, err := sweep.Run(ctx, base, candidates, sweep.Options{Steps: *steps, Inject: *inject, Workers: *workers})
	if err != nil {
		log.Fatal(err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "rank\tcandidate\teroded\tdeposited\tmean change\trelief\tvolume\tsediment\tvmax")
	for i, r := range results {
		if *top > 0 && i >= *top {
			break
		}
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.4f\t%.5f\t%.3f -> %.3f\t%.2f\t%.4f\t%.2f\n",
			i+1, r.Candidate, r.Eroded, r.Deposited, r.MeanChange, r.ReliefBefore, r.ReliefAfter, r.Volume, r.Sediment, r.MaxSpeed)
	}
	tw.Flush()
}
