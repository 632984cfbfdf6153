package fluid

import (
	"fmt"
	"time"

	"terra/internal/core"
	"terra/internal/telemetry"
)

type solveFunc func(p Params, dt, dx float64, in, out buffers, w *scratch) telemetry.Mass

// request carries everything one tick needs. The worker touches nothing else.
type request struct {
	params Params
	dt, dx float64
	in     buffers
	out    buffers
	work   *scratch
	solve  solveFunc
}

type result struct {
	mass    telemetry.Mass
	elapsed time.Duration
	err     error
}

func (l *Layer) run() {
	for req := range l.requests {
		l.results <- execute(req)
	}
}

func execute(req request) (res result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = result{err: fmt.Errorf("%w: %v", ErrTickFailed, r), elapsed: time.Since(start)}
		}
	}()
	mass := req.solve(req.params, req.dt, req.dx, req.in, req.out, req.work)
	return result{mass: mass, elapsed: time.Since(start)}
}

// dispatch hands the queued sources to the worker and starts the next tick.
// The caller must own the scratch buffers, i.e. no tick may be in flight.
func (l *Layer) dispatch(dt, dx float64) {
	core.Swap(&l.pending, &l.work.source)
	l.requests <- request{
		params: l.staged,
		dt:     dt,
		dx:     dx,
		in:     l.sets[l.front],
		out:    l.sets[1-l.front],
		work:   l.work,
		solve:  l.solve,
	}
	l.inflight = true
}

// await joins the in-flight tick. A failed tick poisons the layer.
func (l *Layer) await() error {
	if !l.inflight {
		return l.failed
	}
	res := <-l.results
	l.inflight = false
	if res.err != nil {
		l.failed = res.err
		return l.failed
	}
	l.stats.Tick++
	l.stats.Compute = res.elapsed
	l.stats.Mass = res.mass
	return nil
}
