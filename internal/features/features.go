package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cinar/indicator"
	"github.com/shopspring/decimal"

	"futurecrop/internal/series"
)

// ErrFeature indicates the window cannot support the configured feature
// layout, e.g. a lag deeper than the available history.
var ErrFeature = errors.New("features: window too short for feature layout")

// Options fix the feature layout. The same options must be used at training
// and at serving time; the vector's name list is the contract between them.
type Options struct {
	Lags           []int
	RollingWindows []int
	SeasonalDays   int
}

// Vector is the fixed-width feature row for one (market, commodity, as-of).
// It is transient: owned by the Build call that produced it and never
// persisted apart from the forecast it feeds.
type Vector struct {
	MarketID    string
	CommodityID string
	AsOf        time.Time
	Names       []string
	Values      []float64
	// AnchorPrice is the window's last price at as-of; the model predicts a
	// delta around it.
	AnchorPrice decimal.Decimal
}

// Builder derives feature vectors from aligned windows.
type Builder struct {
	opts Options
}

// NewBuilder constructs a feature builder.
func NewBuilder(opts Options) *Builder {
	if opts.SeasonalDays <= 0 {
		opts.SeasonalDays = 90
	}
	return &Builder{opts: opts}
}

// Build computes the feature vector as of the given date. The window is
// truncated to as-of before any computation, so values after as-of cannot
// leak into the result.
func (b *Builder) Build(win *series.Window, asOf time.Time) (*Vector, error) {
	w := win.Truncate(asOf)
	if w.Len() == 0 {
		return nil, fmt.Errorf("%w: no days at or before %s", ErrFeature, asOf.Format("2006-01-02"))
	}

	maxLag := 0
	for _, lag := range b.opts.Lags {
		if lag > maxLag {
			maxLag = lag
		}
	}
	for _, win := range b.opts.RollingWindows {
		if win > maxLag {
			maxLag = win
		}
	}
	if w.Len() <= maxLag {
		return nil, fmt.Errorf("%w: have %d days, need more than %d", ErrFeature, w.Len(), maxLag)
	}

	prices := make([]float64, w.Len())
	rain := make([]float64, w.Len())
	temp := make([]float64, w.Len())
	imputed := 0
	for i, d := range w.Days {
		prices[i] = d.Price.InexactFloat64()
		rain[i] = d.Rainfall
		temp[i] = d.Temperature
		if d.PriceImputed {
			imputed++
		}
	}
	last := w.Len() - 1

	vec := &Vector{
		MarketID:    w.MarketID,
		CommodityID: w.CommodityID,
		AsOf:        w.LastDate(),
		AnchorPrice: w.LastPrice(),
	}

	for _, lag := range b.opts.Lags {
		vec.push(fmt.Sprintf("lag_%d", lag), prices[last-lag])
	}

	for _, window := range b.opts.RollingWindows {
		sma := indicator.Sma(window, prices)
		std := indicator.Std(window, prices)
		vec.push(fmt.Sprintf("roll_mean_%d", window), sma[last])
		vec.push(fmt.Sprintf("roll_std_%d", window), std[last])
	}

	vec.push("rain_anomaly", anomaly(rain, b.opts.SeasonalDays))
	vec.push("temp_anomaly", anomaly(temp, b.opts.SeasonalDays))

	doy := float64(w.LastDate().YearDay())
	vec.push("doy_sin", math.Sin(2*math.Pi*doy/365.25))
	vec.push("doy_cos", math.Cos(2*math.Pi*doy/365.25))

	vec.push("imputed_frac", float64(imputed)/float64(w.Len()))

	return vec, nil
}

// Names returns the feature names the builder produces, in order.
func (b *Builder) Names() []string {
	out := make([]string, 0, len(b.opts.Lags)+2*len(b.opts.RollingWindows)+5)
	for _, lag := range b.opts.Lags {
		out = append(out, fmt.Sprintf("lag_%d", lag))
	}
	for _, window := range b.opts.RollingWindows {
		out = append(out, fmt.Sprintf("roll_mean_%d", window))
		out = append(out, fmt.Sprintf("roll_std_%d", window))
	}
	out = append(out, "rain_anomaly", "temp_anomaly", "doy_sin", "doy_cos", "imputed_frac")
	return out
}

func (v *Vector) push(name string, value float64) {
	v.Names = append(v.Names, name)
	v.Values = append(v.Values, value)
}

// Value returns the named feature value.
func (v *Vector) Value(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// anomaly is the last value minus the trailing seasonal mean over up to
// seasonalDays entries ending at the last value.
func anomaly(values []float64, seasonalDays int) float64 {
	if len(values) == 0 {
		return 0
	}
	start := len(values) - seasonalDays
	if start < 0 {
		start = 0
	}
	window := values[start:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(len(window))
	return values[len(values)-1] - mean
}
