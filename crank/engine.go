// Package crank is the externally driven scheduler advancing batches through
// their lifecycle. The loop is stateless and restart-safe: every cycle
// recomputes its work list from committed engine state, and the transitions
// it invokes are idempotent, so killing and restarting the process loses
// nothing.
package crank

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/gridmesh/gridclear/auction"
	"github.com/gridmesh/gridclear/logging"
	"github.com/gridmesh/gridclear/metrics"
	"github.com/gridmesh/gridclear/settlement"
	"github.com/gridmesh/gridclear/types"
)

// TimeService.
type TimeService interface {
	GetTimeNow() time.Time
}

// Engine polls the auction and settlement engines, isolating per-item
// failures: one bad batch or order never blocks the rest of the cycle.
type Engine struct {
	Config
	log *logging.Logger

	auction     *auction.Engine
	settlement  *settlement.Engine
	timeService TimeService
}

// New returns a new scheduler.
func New(log *logging.Logger, conf Config, auc *auction.Engine, stl *settlement.Engine, timeService TimeService) *Engine {
	log = log.Named(namedLogger)
	log.SetLevel(conf.Level.Get())

	return &Engine{
		Config:      conf,
		log:         log,
		auction:     auc,
		settlement:  stl,
		timeService: timeService,
	}
}

// ReloadConf updates the internal configuration of the scheduler.
func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevelString()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}
	e.Config = cfg
}

// Run executes cycles until the context is cancelled. Cancellation is only
// honoured between cycles, never mid-cycle.
func (e *Engine) Run(ctx context.Context) {
	interval := e.PollInterval.Get()
	e.log.Info("scheduler started", logging.Duration("poll-interval", interval))

	for {
		e.Cycle()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.log.Info("scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// Cycle runs one full pass over all known batches.
func (e *Engine) Cycle() {
	now := e.timeService.GetTimeNow()

	if bool(e.OpenBatches) && !e.auction.HasOpenBatch(now) {
		if _, err := e.auction.OpenBatch(now, now.Add(e.auction.BatchDuration.Get())); err != nil {
			e.log.Error("unable to open batch", logging.Error(err))
		}
	}

	batches := e.auction.ListBatches()
	open := 0
	for _, b := range batches {
		switch b.State {
		case types.BatchStateOpen:
			if !b.Expired(now) {
				open++
				continue
			}
			e.resolve(b)
		case types.BatchStateCleared, types.BatchStateSettling:
			e.drain(b)
		case types.BatchStateExhausted, types.BatchStateFailed:
			// historical record, nothing to do
		}
	}
	metrics.SetOpenBatches(open)
}

// resolve drives one expired batch through resolution, and straight into
// settlement when it cleared, so a batch does not sit idle for a full poll
// interval between the two. Failures are logged and isolated; the batch gets
// another chance next cycle.
func (e *Engine) resolve(b *types.AuctionBatch) {
	resolved, err := e.auction.Resolve(b.ID)
	if err != nil {
		e.log.Error("batch resolution failed",
			logging.BatchID(b.ID),
			logging.Error(err),
		)
		metrics.SchedulerFailure("resolution")
		return
	}
	metrics.BatchResolved(resolved.State.String())
	if resolved.State == types.BatchStateCleared {
		e.drain(resolved)
	}
}

// drain settles matches for one batch until no eligible pair remains or the
// per-cycle bound is hit. A recoverable failure is retried briefly with
// exponential backoff, then deferred to the next cycle; anything else is
// logged and isolated.
func (e *Engine) drain(b *types.AuctionBatch) {
	for i := 0; i < e.MaxSettlementsPerCycle; i++ {
		err := backoff.Retry(func() error {
			_, err := e.settlement.SettleNext(b.ID)
			if err == nil {
				return nil
			}
			if errors.Is(err, settlement.ErrEscrowUnderfunded) {
				// nothing was applied, the same pair can be retried
				return err
			}
			return backoff.Permanent(err)
		}, e.retryPolicy())

		switch {
		case err == nil:
			metrics.SettlementExecuted()
		case errors.Is(err, settlement.ErrNoEligiblePair):
			return
		case errors.Is(err, settlement.ErrEscrowUnderfunded):
			e.log.Warn("settlement deferred to next cycle",
				logging.BatchID(b.ID),
				logging.Error(err),
			)
			metrics.SchedulerFailure("settlement-recoverable")
			return
		default:
			e.log.Error("settlement failed",
				logging.BatchID(b.ID),
				logging.Error(err),
			)
			metrics.SchedulerFailure("settlement")
			return
		}
	}
	e.log.Debug("per-cycle settlement bound reached",
		logging.BatchID(b.ID),
		logging.Int("max", e.MaxSettlementsPerCycle),
	)
}

func (e *Engine) retryPolicy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	return backoff.WithMaxRetries(bo, e.RetryAttempts)
}
