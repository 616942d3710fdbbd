// Package workpool runs independent units of work on a bounded number of goroutines.
package workpool

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWidth is the number of units run concurrently when none is configured.
const DefaultWidth = 16

// Pool bounds concurrency for a batch of units. A Pool has no goroutines of its own and
// may be reused for any number of batches, sequentially or concurrently.
type Pool struct {
	width  int
	logger *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for per-unit failures.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New returns a pool running at most width units at once. width <= 0 selects DefaultWidth.
func New(width int, opts ...Option) *Pool {
	if width <= 0 {
		width = DefaultWidth
	}
	p := &Pool{width: width, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Width returns the concurrency bound.
func (p *Pool) Width() int { return p.width }

// Result summarizes one batch.
type Result struct {
	Started    int
	Failed     int
	NotStarted int
	// Canceled is set when the batch context was canceled before every unit started.
	Canceled bool
}

// Each calls fn once per unit with at most p.Width() calls in flight.
//
// A unit's error is an outcome, not a batch failure: it is counted and logged and the
// remaining units still run. Once ctx is canceled no further unit is started, including
// units already queued for a free slot; units already running are allowed to finish and
// receive a context that is not canceled with ctx. Each returns after every started unit
// has returned.
func Each[T any](ctx context.Context, p *Pool, units []T, fn func(ctx context.Context, unit T) error) Result {
	var g errgroup.Group
	g.SetLimit(p.width)
	detached := context.WithoutCancel(ctx)

	var started, failed atomic.Int64
	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		// blocks while the pool is full
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			started.Add(1)
			if err := fn(detached, u); err != nil {
				failed.Add(1)
				p.logger.Debug("work unit failed", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Started: int(started.Load()),
		Failed:  int(failed.Load()),
	}
	res.NotStarted = len(units) - res.Started
	res.Canceled = res.NotStarted > 0
	return res
}
