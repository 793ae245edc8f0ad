package series

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one observed daily market price, append-only upstream.
type PricePoint struct {
	MarketID    string
	CommodityID string
	Date        time.Time
	Price       decimal.Decimal
	Unit        string
}

// WeatherPoint is one observed daily regional weather record.
type WeatherPoint struct {
	RegionID    string
	Date        time.Time
	Temperature float64
	Rainfall    float64
	Humidity    float64
}

// Day is one aligned calendar day inside a Window.
type Day struct {
	Date           time.Time
	Price          decimal.Decimal
	PriceImputed   bool
	Temperature    float64
	Rainfall       float64
	Humidity       float64
	WeatherImputed bool
}

// Window is a gap-free ordered daily sequence for one (market, commodity).
// Missing days are explicitly filled and flagged; consumers must treat it as
// read-only.
type Window struct {
	MarketID    string
	CommodityID string
	RegionID    string
	Unit        string
	Days        []Day
	Observed    int
}

// Truncate returns a sub-window containing only days with date <= asOf.
// Feature construction receives the truncated window, so later data is
// structurally out of reach rather than filtered by convention.
func (w *Window) Truncate(asOf time.Time) *Window {
	cut := truncateDay(asOf)
	n := 0
	for _, d := range w.Days {
		if d.Date.After(cut) {
			break
		}
		n++
	}
	observed := 0
	for _, d := range w.Days[:n] {
		if !d.PriceImputed {
			observed++
		}
	}
	return &Window{
		MarketID:    w.MarketID,
		CommodityID: w.CommodityID,
		RegionID:    w.RegionID,
		Unit:        w.Unit,
		Days:        w.Days[:n:n],
		Observed:    observed,
	}
}

// Len returns the number of aligned days.
func (w *Window) Len() int {
	return len(w.Days)
}

// LastPrice returns the price of the most recent day.
func (w *Window) LastPrice() decimal.Decimal {
	if len(w.Days) == 0 {
		return decimal.Zero
	}
	return w.Days[len(w.Days)-1].Price
}

// LastDate returns the date of the most recent day.
func (w *Window) LastDate() time.Time {
	if len(w.Days) == 0 {
		return time.Time{}
	}
	return w.Days[len(w.Days)-1].Date
}

// TrailingMaxPrice returns the maximum observed (non-imputed) price over the
// trailing n days, or zero when no observed day falls in that span.
func (w *Window) TrailingMaxPrice(days int) decimal.Decimal {
	max := decimal.Zero
	start := len(w.Days) - days
	if start < 0 {
		start = 0
	}
	for _, d := range w.Days[start:] {
		if d.PriceImputed {
			continue
		}
		if d.Price.GreaterThan(max) {
			max = d.Price
		}
	}
	return max
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
