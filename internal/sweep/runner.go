// Package sweep drives the periodic presence sweep.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 15 * time.Second

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Locker is a cross-process lease. Acquire reports false when another
// process holds it.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Runner runs sweeps one at a time: a tick that starts while the previous one
// is still running is skipped.
type Runner struct {
	sweeper  Sweeper
	interval time.Duration
	locker   Locker
	running  sync.Mutex
	logger   zerolog.Logger
}

// NewRunner builds a runner. locker may be nil for a single-process deployment.
func NewRunner(sweeper Sweeper, interval time.Duration, locker Locker) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		sweeper:  sweeper,
		interval: interval,
		locker:   locker,
		logger:   log.With().Str("module", "sweep").Logger(),
	}
}

func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Run ticks every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("sweep loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("sweep loop stopped")
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one sweep and reports whether it ran. Errors are logged.
func (r *Runner) Tick(ctx context.Context) bool {
	if !r.running.TryLock() {
		r.logger.Debug().Msg("previous sweep still running, skipping tick")
		return false
	}
	defer r.running.Unlock()

	if r.locker != nil {
		acquired, err := r.locker.Acquire(ctx, r.interval)
		if err != nil {
			r.logger.Warn().Err(err).Msg("sweep lease unavailable, skipping tick")
			return false
		}
		if !acquired {
			r.logger.Debug().Msg("sweep lease held elsewhere, skipping tick")
			return false
		}
		defer func() {
			if err := r.locker.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn().Err(err).Msg("release sweep lease")
			}
		}()
	}

	evicted, err := r.sweeper.Sweep(ctx)
	if err != nil {
		r.logger.Error().Err(err).Int("evicted", evicted).Msg("sweep finished with errors")
		return true
	}
	if evicted > 0 {
		r.logger.Info().Int("evicted", evicted).Msg("sweep finished")
	}
	return true
}
