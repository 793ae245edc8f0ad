package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futurecrop/internal/model"
	"futurecrop/internal/series"
)

// Train retrains the forecast model offline from accumulated history and
// persists the resulting snapshot. A running service activates it before its
// next batch run via the registry swap, so retraining never takes the
// serving path down.
func (a *App) Train(ctx context.Context, opts TrainOptions) (string, error) {
	if opts.HorizonDays < a.Config.Model.MinHorizonDays || opts.HorizonDays > a.Config.Model.MaxHorizonDays {
		return "", fmt.Errorf("%w: %d", model.ErrHorizonOutOfRange, opts.HorizonDays)
	}
	if opts.Stride <= 0 {
		opts.Stride = 1
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return "", err
	}
	defer closeStore()

	adapter := a.newAdapter(store)
	builder := a.newBuilder()

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	from := asOf.AddDate(0, 0, -a.Config.Series.LookbackDays)

	var examples []model.Example
	covered := 0
	for _, pair := range a.Config.Catalog.Pairs() {
		mkt, ok := a.Config.Catalog.Market(pair.MarketID)
		if !ok {
			continue
		}
		win, err := adapter.Fetch(ctx, pair.MarketID, pair.CommodityID, mkt.RegionID, from, asOf)
		if err != nil {
			if errors.Is(err, series.ErrInsufficientHistory) || errors.Is(err, series.ErrDataGap) || errors.Is(err, series.ErrNoPrices) {
				a.Logger.Warn().Err(err).
					Str("market", pair.MarketID).
					Str("commodity", pair.CommodityID).
					Msg("unit excluded from training set")
				continue
			}
			return "", err
		}
		set := model.BuildTrainingSet(win, builder, opts.HorizonDays, opts.Stride)
		examples = append(examples, set...)
		covered++
	}

	a.Logger.Info().
		Int("units", covered).
		Int("examples", len(examples)).
		Int("horizon_days", opts.HorizonDays).
		Msg("training set assembled")

	trainer := model.NewTrainer(model.TrainOptions{
		Epochs:    a.Config.Model.TrainEpochs,
		LearnRate: a.Config.Model.TrainLearnRate,
	}, a.Logger)

	snap, err := trainer.Train(examples, time.Now().UTC())
	if err != nil {
		return "", err
	}

	if err := store.SaveSnapshot(ctx, snap); err != nil {
		return "", err
	}

	return snap.Version, nil
}
