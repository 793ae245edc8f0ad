package compare

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futurecrop/internal/catalog"
	"futurecrop/internal/model"
	"futurecrop/internal/series"
)

// ForecastProvider supplies the latest forecast for a (market, commodity),
// computing one on demand when none is stored. Implemented by the pipeline.
type ForecastProvider interface {
	LatestForecast(ctx context.Context, marketID, commodityID string, horizonDays int) (model.Forecast, error)
}

// TransportOptions parameterise the cost estimate deducted from forecasts.
type TransportOptions struct {
	PerKmRate   float64
	HandlingFee float64
}

// RankedMarket is one comparator result row.
type RankedMarket struct {
	MarketID       string
	MarketName     string
	PredictedPrice decimal.Decimal
	TransportCost  decimal.Decimal
	NetPrice       decimal.Decimal
	DistanceKm     float64
	ModelVersion   string
}

// Comparator ranks markets for a commodity by forecast price net of
// estimated transport and handling cost.
type Comparator struct {
	cat      *catalog.Catalog
	provider ForecastProvider
	opts     TransportOptions
	logger   zerolog.Logger
}

// New constructs a comparator.
func New(cat *catalog.Catalog, provider ForecastProvider, opts TransportOptions, logger zerolog.Logger) *Comparator {
	return &Comparator{
		cat:      cat,
		provider: provider,
		opts:     opts,
		logger:   logger.With().Str("component", "comparator").Logger(),
	}
}

// Rank orders candidate markets descending by net price, ties broken by
// smaller transport distance. Markets lacking sufficient history are
// excluded, not errors.
func (c *Comparator) Rank(ctx context.Context, commodityID string, from catalog.Location, horizonDays int) ([]RankedMarket, error) {
	com, ok := c.cat.Commodity(commodityID)
	if !ok {
		return nil, fmt.Errorf("compare: unknown commodity %s", commodityID)
	}

	candidates := c.cat.MarketsFor(commodityID)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("compare: no markets trade %s", commodityID)
	}

	ranked := make([]RankedMarket, 0, len(candidates))
	for _, m := range candidates {
		fc, err := c.provider.LatestForecast(ctx, m.ID, commodityID, horizonDays)
		if err != nil {
			if excludable(err) {
				c.logger.Debug().Err(err).Str("market", m.ID).Msg("market excluded from ranking")
				continue
			}
			return nil, fmt.Errorf("forecast for %s/%s: %w", m.ID, commodityID, err)
		}

		dist := catalog.DistanceKm(from, m.Location())
		cost := TransportCost(dist, com, c.opts)
		ranked = append(ranked, RankedMarket{
			MarketID:       m.ID,
			MarketName:     m.Name,
			PredictedPrice: fc.PredictedPrice,
			TransportCost:  cost,
			NetPrice:       fc.PredictedPrice.Sub(cost),
			DistanceKm:     dist,
			ModelVersion:   fc.ModelVersion,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		cmp := ranked[i].NetPrice.Cmp(ranked[j].NetPrice)
		if cmp != 0 {
			return cmp > 0
		}
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})

	return ranked, nil
}

// TransportCost estimates per-unit cost of moving a commodity over a
// distance: per-km rate scaled by the commodity's weight factor plus a flat
// handling fee.
func TransportCost(distanceKm float64, com catalog.Commodity, opts TransportOptions) decimal.Decimal {
	factor := com.WeightFactor
	if factor <= 0 {
		factor = 1
	}
	return decimal.NewFromFloat(opts.PerKmRate*distanceKm*factor + opts.HandlingFee).Round(2)
}

func excludable(err error) bool {
	return errors.Is(err, series.ErrInsufficientHistory) ||
		errors.Is(err, series.ErrDataGap) ||
		errors.Is(err, series.ErrNoPrices)
}
