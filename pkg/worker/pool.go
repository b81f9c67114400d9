package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/psaab/spp/pkg/mgmt"
)

// Pool is the set of workers of one process.
type Pool struct {
	workers []*Worker
}

// NewPool creates a worker for every lcore.
func NewPool(st *mgmt.State, lcores []int, opts Options) *Pool {
	p := &Pool{}
	for _, l := range lcores {
		p.workers = append(p.workers, New(st, l, opts))
	}
	return p
}

// Workers returns the pool's workers in lcore order of creation.
func (p *Pool) Workers() []*Worker { return p.workers }

// Run starts every worker and waits for all of them to return.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

// Totals sums the counters of every worker.
func (p *Pool) Totals() (forwarded, dropped uint64) {
	for _, w := range p.workers {
		forwarded += w.Stats.Forwarded.Load()
		dropped += w.Stats.Dropped.Load()
	}
	return forwarded, dropped
}
