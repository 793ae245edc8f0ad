package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"futurecrop/internal/alerting"
	"futurecrop/internal/catalog"
	"futurecrop/internal/features"
	"futurecrop/internal/model"
	"futurecrop/internal/series"
	"futurecrop/internal/storage"
)

// trailingMaxDays is the observation span backing the peak_within_horizon
// threshold.
const trailingMaxDays = 90

// Options tune a pipeline unit run.
type Options struct {
	LookbackDays   int
	HorizonDays    []int
	PredictTimeout time.Duration
}

// Runner executes the strictly sequential stages for one (market, commodity)
// unit: fetch window, build features, predict, persist, evaluate alerts.
type Runner struct {
	cat       *catalog.Catalog
	adapter   *series.Adapter
	builder   *features.Builder
	predictor *model.Predictor
	forecasts storage.ForecastStore
	alerts    *alerting.Engine
	opts      Options
	logger    zerolog.Logger
}

// NewRunner wires the pipeline stages together.
func NewRunner(
	cat *catalog.Catalog,
	adapter *series.Adapter,
	builder *features.Builder,
	predictor *model.Predictor,
	forecasts storage.ForecastStore,
	alerts *alerting.Engine,
	opts Options,
	logger zerolog.Logger,
) *Runner {
	return &Runner{
		cat:       cat,
		adapter:   adapter,
		builder:   builder,
		predictor: predictor,
		forecasts: forecasts,
		alerts:    alerts,
		opts:      opts,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// ProcessUnit runs the full pipeline for one unit at the given run date. A
// failure aborts only this unit; the driver decides whether it is retried,
// skipped, or surfaced.
func (r *Runner) ProcessUnit(ctx context.Context, marketID, commodityID string, runDate time.Time) error {
	mkt, ok := r.cat.Market(marketID)
	if !ok {
		return fmt.Errorf("pipeline: unknown market %s", marketID)
	}

	from := runDate.AddDate(0, 0, -r.opts.LookbackDays)
	win, err := r.adapter.Fetch(ctx, marketID, commodityID, mkt.RegionID, from, runDate)
	if err != nil {
		return err
	}

	vec, err := r.builder.Build(win, runDate)
	if err != nil {
		return err
	}

	base := alerting.Baseline{
		CurrentPrice: win.LastPrice(),
		TrailingMax:  win.TrailingMaxPrice(trailingMaxDays),
	}

	for _, horizon := range r.opts.HorizonDays {
		fc, err := r.predict(ctx, vec, horizon)
		if err != nil {
			return err
		}

		if r.forecasts != nil {
			if err := r.forecasts.UpsertForecast(ctx, fc); err != nil {
				return fmt.Errorf("persist forecast: %w", err)
			}
		}

		r.logger.Info().
			Str("market", marketID).
			Str("commodity", commodityID).
			Int("horizon_days", horizon).
			Str("predicted", fc.PredictedPrice.String()).
			Str("model_version", fc.ModelVersion).
			Bool("stale", fc.Stale).
			Msg("forecast issued")

		if r.alerts != nil {
			if err := r.evaluateAlerts(ctx, fc, base); err != nil {
				return err
			}
		}
	}

	return nil
}

// predict bounds model compute with the configured timeout; exceeding it
// surfaces as context.DeadlineExceeded, which the driver treats as transient.
func (r *Runner) predict(ctx context.Context, vec *features.Vector, horizonDays int) (model.Forecast, error) {
	if r.opts.PredictTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.PredictTimeout)
		defer cancel()
	}

	type result struct {
		fc  model.Forecast
		err error
	}
	done := make(chan result, 1)
	go func() {
		fc, err := r.predictor.Predict(vec, horizonDays)
		done <- result{fc: fc, err: err}
	}()

	select {
	case <-ctx.Done():
		return model.Forecast{}, fmt.Errorf("model predict: %w", ctx.Err())
	case res := <-done:
		return res.fc, res.err
	}
}

func (r *Runner) evaluateAlerts(ctx context.Context, fc model.Forecast, base alerting.Baseline) error {
	for _, farmer := range r.cat.Farmers {
		events := alerting.Evaluate(fc, base, farmer)
		if len(events) == 0 {
			continue
		}
		if _, err := r.alerts.Record(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

// LatestForecast serves the comparator: it returns the stored latest
// forecast, computing and persisting one on demand when none exists yet.
func (r *Runner) LatestForecast(ctx context.Context, marketID, commodityID string, horizonDays int) (model.Forecast, error) {
	if r.forecasts != nil {
		fc, err := r.forecasts.LatestForecast(ctx, marketID, commodityID, horizonDays)
		if err == nil {
			return fc, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return model.Forecast{}, err
		}
	}
	return r.computeForecast(ctx, marketID, commodityID, horizonDays)
}

func (r *Runner) computeForecast(ctx context.Context, marketID, commodityID string, horizonDays int) (model.Forecast, error) {
	mkt, ok := r.cat.Market(marketID)
	if !ok {
		return model.Forecast{}, fmt.Errorf("pipeline: unknown market %s", marketID)
	}

	asOf := truncateDay(time.Now().UTC())
	from := asOf.AddDate(0, 0, -r.opts.LookbackDays)
	win, err := r.adapter.Fetch(ctx, marketID, commodityID, mkt.RegionID, from, asOf)
	if err != nil {
		return model.Forecast{}, err
	}

	vec, err := r.builder.Build(win, asOf)
	if err != nil {
		return model.Forecast{}, err
	}

	fc, err := r.predict(ctx, vec, horizonDays)
	if err != nil {
		return model.Forecast{}, err
	}

	if r.forecasts != nil {
		if err := r.forecasts.UpsertForecast(ctx, fc); err != nil {
			return model.Forecast{}, fmt.Errorf("persist forecast: %w", err)
		}
	}
	return fc, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
