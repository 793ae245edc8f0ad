package series

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrInsufficientHistory indicates too few observed price points in range.
	ErrInsufficientHistory = errors.New("series: insufficient history")
	// ErrDataGap indicates a run of missing days too long to impute safely.
	ErrDataGap = errors.New("series: data gap exceeds maximum")
	// ErrNoPrices indicates the range holds no price points at all.
	ErrNoPrices = errors.New("series: no price points in range")
)

// Source supplies raw persisted records. Implemented by the storage layer.
type Source interface {
	PricePoints(ctx context.Context, marketID, commodityID string, from, to time.Time) ([]PricePoint, error)
	WeatherPoints(ctx context.Context, regionID string, from, to time.Time) ([]WeatherPoint, error)
}

// Options tune the adapter's imputation policy.
type Options struct {
	MinObservations int
	MaxGapDays      int
	FetchTimeout    time.Duration
}

// Adapter provides aligned read-only windows over persisted series.
type Adapter struct {
	source Source
	opts   Options
	logger zerolog.Logger
}

// NewAdapter wires a raw source into a window adapter.
func NewAdapter(source Source, opts Options, logger zerolog.Logger) *Adapter {
	return &Adapter{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "series_adapter").Logger(),
	}
}

// Fetch aligns prices and weather for one (market, commodity) into a gap-free
// window over [from, to]. Prices and weather are forward-filled from the most
// recent observation; fills are flagged as imputed.
func (a *Adapter) Fetch(ctx context.Context, marketID, commodityID, regionID string, from, to time.Time) (*Window, error) {
	if a.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.FetchTimeout)
		defer cancel()
	}

	from = truncateDay(from)
	to = truncateDay(to)
	if to.Before(from) {
		return nil, fmt.Errorf("series: range end %s before start %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	prices, err := a.source.PricePoints(ctx, marketID, commodityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load price points: %w", err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPrices, marketID, commodityID)
	}

	weather, err := a.source.WeatherPoints(ctx, regionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load weather points: %w", err)
	}

	win, err := a.align(marketID, commodityID, regionID, prices, weather, to)
	if err != nil {
		return nil, err
	}

	if win.Observed < a.opts.MinObservations {
		return nil, fmt.Errorf("%w: %s/%s has %d observed points, need %d",
			ErrInsufficientHistory, marketID, commodityID, win.Observed, a.opts.MinObservations)
	}

	a.logger.Debug().
		Str("market", marketID).
		Str("commodity", commodityID).
		Int("days", win.Len()).
		Int("observed", win.Observed).
		Msg("window assembled")

	return win, nil
}

func (a *Adapter) align(marketID, commodityID, regionID string, prices []PricePoint, weather []WeatherPoint, to time.Time) (*Window, error) {
	byDate := make(map[time.Time]PricePoint, len(prices))
	first := time.Time{}
	unit := ""
	for _, p := range prices {
		d := truncateDay(p.Date)
		byDate[d] = p
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if unit == "" {
			unit = p.Unit
		}
	}

	win := &Window{
		MarketID:    marketID,
		CommodityID: commodityID,
		RegionID:    regionID,
		Unit:        unit,
	}

	// The window starts at the first observed price: leading days cannot be
	// forward-filled from anything.
	lastPrice := byDate[first].Price
	gap := 0
	for d := first; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := Day{Date: d}
		if p, ok := byDate[d]; ok {
			day.Price = p.Price
			lastPrice = p.Price
			gap = 0
			win.Observed++
		} else {
			gap++
			if gap > a.opts.MaxGapDays {
				return nil, fmt.Errorf("%w: %s/%s missing more than %d consecutive days around %s",
					ErrDataGap, marketID, commodityID, a.opts.MaxGapDays, d.Format("2006-01-02"))
			}
			day.Price = lastPrice
			day.PriceImputed = true
		}
		win.Days = append(win.Days, day)
	}

	fillWeather(win, weather)
	return win, nil
}

// fillWeather carries the most recent observed weather forward. Only
// observations dated at or before a day may fill it, so a truncated window
// never embeds weather from after its cut. Days before the first observation
// keep zero covariates, flagged imputed.
func fillWeather(win *Window, weather []WeatherPoint) {
	if len(win.Days) == 0 {
		return
	}

	byDate := make(map[time.Time]WeatherPoint, len(weather))
	last := WeatherPoint{}
	has := false
	for _, w := range weather {
		d := truncateDay(w.Date)
		byDate[d] = w
		if !d.After(win.Days[0].Date) && (!has || d.After(truncateDay(last.Date))) {
			last = w
			has = true
		}
	}

	for i := range win.Days {
		if w, ok := byDate[win.Days[i].Date]; ok {
			setWeather(&win.Days[i], w, false)
			last = w
			has = true
			continue
		}
		if has {
			setWeather(&win.Days[i], last, true)
		} else {
			win.Days[i].WeatherImputed = true
		}
	}
}

func setWeather(day *Day, w WeatherPoint, imputed bool) {
	day.Temperature = w.Temperature
	day.Rainfall = w.Rainfall
	day.Humidity = w.Humidity
	day.WeatherImputed = imputed
}
