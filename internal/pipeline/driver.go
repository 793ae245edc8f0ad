package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"futurecrop/internal/catalog"
	"futurecrop/internal/series"
	"futurecrop/internal/storage"
)

// DriverOptions govern batch execution.
type DriverOptions struct {
	Parallelism     int
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	AdvisoryLockKey int64
}

// Summary aggregates per-unit outcomes of one batch run. A bad unit never
// fails the whole run; it lands in Skipped or Failed instead.
type Summary struct {
	RunDate   time.Time
	Succeeded int
	Skipped   int
	Failed    int
}

// Total returns the number of processed units.
func (s Summary) Total() int {
	return s.Succeeded + s.Skipped + s.Failed
}

// Driver fans pipeline units out over a worker pool, retrying transient
// failures with bounded backoff and aggregating outcomes.
type Driver struct {
	runner *Runner
	cat    *catalog.Catalog
	opts   DriverOptions
	locker storage.AdvisoryLocker
	logger zerolog.Logger
}

// NewDriver constructs the batch driver. The locker may be nil when no
// database-level single-flight is wanted (tests, dry runs).
func NewDriver(runner *Runner, cat *catalog.Catalog, opts DriverOptions, locker storage.AdvisoryLocker, logger zerolog.Logger) *Driver {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Driver{
		runner: runner,
		cat:    cat,
		opts:   opts,
		locker: locker,
		logger: logger.With().Str("component", "batch_driver").Logger(),
	}
}

// Run executes the batch for every (market, commodity) unit at the given run
// date. Units execute independently and in parallel; stages within one unit
// stay strictly sequential inside the runner.
func (d *Driver) Run(ctx context.Context, runDate time.Time) (Summary, error) {
	summary := Summary{RunDate: runDate}

	if d.locker != nil && d.opts.AdvisoryLockKey != 0 {
		unlock, acquired, err := d.locker.TryAdvisoryLock(ctx, d.opts.AdvisoryLockKey)
		if err != nil {
			return summary, err
		}
		if !acquired {
			d.logger.Warn().Time("run_date", runDate).Msg("skip batch: advisory lock held elsewhere")
			return summary, nil
		}
		defer unlock()
	}

	pairs := d.cat.Pairs()
	jobs := make(chan catalog.Pair)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pair := range jobs {
				outcome := d.runUnit(ctx, pair, runDate)
				mu.Lock()
				switch outcome {
				case outcomeSucceeded:
					summary.Succeeded++
				case outcomeSkipped:
					summary.Skipped++
				default:
					summary.Failed++
				}
				mu.Unlock()
			}
		}()
	}

	for _, pair := range pairs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return summary, ctx.Err()
		case jobs <- pair:
		}
	}
	close(jobs)
	wg.Wait()

	d.logger.Info().
		Time("run_date", runDate).
		Int("succeeded", summary.Succeeded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("batch run complete")

	return summary, nil
}

type unitOutcome int

const (
	outcomeSucceeded unitOutcome = iota
	outcomeSkipped
	outcomeFailed
)

func (d *Driver) runUnit(ctx context.Context, pair catalog.Pair, runDate time.Time) unitOutcome {
	bo := backoff.NewExponentialBackOff()
	if d.opts.InitialBackoff > 0 {
		bo.InitialInterval = d.opts.InitialBackoff
	}
	if d.opts.MaxBackoff > 0 {
		bo.MaxInterval = d.opts.MaxBackoff
	}
	bo.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := d.runner.ProcessUnit(ctx, pair.MarketID, pair.CommodityID, runDate)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			d.logger.Warn().Err(err).
				Str("market", pair.MarketID).
				Str("commodity", pair.CommodityID).
				Int("attempt", attempt).
				Msg("transient unit failure, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.opts.MaxRetries)), ctx))

	if err == nil {
		return outcomeSucceeded
	}

	if isSkippable(err) || isTransient(err) {
		d.logger.Warn().Err(err).
			Str("market", pair.MarketID).
			Str("commodity", pair.CommodityID).
			Time("run_date", runDate).
			Msg("unit skipped; will retry next scheduled run")
		return outcomeSkipped
	}

	d.logger.Error().Err(err).
		Str("market", pair.MarketID).
		Str("commodity", pair.CommodityID).
		Time("run_date", runDate).
		Msg("unit failed")
	return outcomeFailed
}

// isSkippable covers unrecoverable data issues: the unit is skipped, logged,
// and retried on the next scheduled run, never fatal to the batch.
func isSkippable(err error) bool {
	return errors.Is(err, series.ErrInsufficientHistory) ||
		errors.Is(err, series.ErrDataGap) ||
		errors.Is(err, series.ErrNoPrices)
}

// isTransient covers bounded I/O and compute timeouts.
func isTransient(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
