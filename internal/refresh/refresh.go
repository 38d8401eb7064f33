// Package refresh implements the overnight batch that recomputes every
// account's performance reports, so the first morning request hits a warm
// cache instead of fanning out to the providers.
package refresh

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rafamrn/solarsight/pkg/performance"
	"github.com/rafamrn/solarsight/pkg/store"
)

// Runner drives the scheduled cache refresh.
type Runner struct {
	store *store.Store
	perf  *performance.Service
	log   zerolog.Logger
	hour  int
	now   func() time.Time
}

// New creates a runner that fires daily at the given hour (0-23).
func New(st *store.Store, perf *performance.Service, hour int, log zerolog.Logger) *Runner {
	return &Runner{
		store: st,
		perf:  perf,
		log:   log.With().Str("component", "refresh").Logger(),
		hour:  hour,
		now:   time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// RunOnce warms every active account's reports. The compute goes through
// the cache-respecting read path, so an account whose reports are still
// inside the freshness window costs nothing. One failing account never
// stops the rest of the batch.
func (r *Runner) RunOnce(ctx context.Context) error {
	runID := uuid.NewString()
	log := r.log.With().Str("run_id", runID).Logger()

	accounts, err := r.store.ListActiveAccountIDs(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("accounts", len(accounts)).Msg("refresh run started")

	start := r.now()
	failed := 0
	for _, accountID := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.warmAccount(ctx, accountID); err != nil {
			failed++
			log.Warn().Err(err).Int64("account_id", accountID).Msg("account refresh failed")
		}
	}

	log.Info().
		Int("accounts", len(accounts)).
		Int("failed", failed).
		Dur("elapsed", r.now().Sub(start)).
		Msg("refresh run finished")
	return nil
}

// warmAccount serves each report kind unforced, recomputing only what the
// freshness window says is stale.
func (r *Runner) warmAccount(ctx context.Context, accountID int64) error {
	for _, kind := range performance.Kinds {
		if _, err := r.perf.Get(ctx, accountID, kind, false); err != nil {
			return err
		}
	}
	return nil
}

// nextRun returns the next occurrence of the configured hour after now.
func (r *Runner) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), r.hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start blocks, firing RunOnce daily at the configured hour until the
// context is canceled.
func (r *Runner) Start(ctx context.Context) error {
	for {
		next := r.nextRun(r.now())
		r.log.Info().Time("next_run", next).Msg("refresh scheduled")

		timer := time.NewTimer(next.Sub(r.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error().Err(err).Msg("refresh run errored")
		}
	}
}
