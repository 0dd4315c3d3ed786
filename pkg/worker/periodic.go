// Package worker runs periodic background jobs that must never overlap.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"herald/internal/logger"
	"herald/pkg/metrics"
)

// ErrAlreadyRunning is returned by Trigger while a run is in flight.
var ErrAlreadyRunning = errors.New("worker run already in progress")

type RunFunc func(ctx context.Context) error

// Periodic invokes a RunFunc on a fixed interval. Runs execute inline on the
// ticker goroutine, so ticks that fire during a slow run are dropped rather
// than queued. A manual Trigger is refused while a run is in flight.
type Periodic struct {
	name     string
	interval time.Duration
	run      RunFunc
	logger   logger.Logger
	running  atomic.Bool
}

func NewPeriodic(name string, interval time.Duration, run RunFunc, log logger.Logger) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		run:      run,
		logger:   log.With("worker", name),
	}
}

func (p *Periodic) Name() string {
	return p.name
}

// Start blocks until ctx is cancelled. Errors from individual runs are logged
// and the loop continues on the next tick.
func (p *Periodic) Start(ctx context.Context) error {
	p.logger.Infow("Periodic worker started", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Periodic worker stopped")
			return nil
		case <-ticker.C:
			if _, err := p.Trigger(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				p.logger.ErrorwCtx(ctx, "Periodic run failed", "error", err)
			}
		}
	}
}

// Trigger runs the job once unless another run is in flight.
func (p *Periodic) Trigger(ctx context.Context) (bool, error) {
	if !p.running.CompareAndSwap(false, true) {
		metrics.ObserveWorkerRun(p.name, "skipped", 0)
		p.logger.Debugw("Skipping run, previous run still in progress")
		return false, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	start := time.Now()
	err := p.run(ctx)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveWorkerRun(p.name, status, time.Since(start))
	return true, err
}
