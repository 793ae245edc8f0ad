package series

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeSource struct {
	prices  []PricePoint
	weather []WeatherPoint
}

func (f *fakeSource) PricePoints(ctx context.Context, marketID, commodityID string, from, to time.Time) ([]PricePoint, error) {
	return f.prices, nil
}

func (f *fakeSource) WeatherPoints(ctx context.Context, regionID string, from, to time.Time) ([]WeatherPoint, error) {
	return f.weather, nil
}

func day(d int) time.Time {
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func pricePoint(d int, price float64) PricePoint {
	return PricePoint{
		MarketID:    "mkt_pune",
		CommodityID: "tomato",
		Date:        day(d),
		Price:       decimal.NewFromFloat(price),
		Unit:        "kg",
	}
}

func newTestAdapter(src Source, minObs, maxGap int) *Adapter {
	return NewAdapter(src, Options{MinObservations: minObs, MaxGapDays: maxGap}, zerolog.Nop())
}

func TestFetchForwardFillsMissingPrices(t *testing.T) {
	src := &fakeSource{
		prices: []PricePoint{
			pricePoint(0, 20),
			pricePoint(1, 22),
			pricePoint(3, 24),
		},
		weather: []WeatherPoint{
			{RegionID: "r1", Date: day(0), Temperature: 30, Rainfall: 2},
			{RegionID: "r1", Date: day(3), Temperature: 32, Rainfall: 0},
		},
	}
	adapter := newTestAdapter(src, 3, 2)

	win, err := adapter.Fetch(context.Background(), "mkt_pune", "tomato", "r1", day(0), day(3))
	if err != nil {
		t.Fatalf("Fetch should succeed: %v", err)
	}

	if win.Len() != 4 {
		t.Fatalf("window should cover 4 days, got %d", win.Len())
	}
	if win.Observed != 3 {
		t.Fatalf("window should count 3 observed days, got %d", win.Observed)
	}

	gapDay := win.Days[2]
	if !gapDay.PriceImputed {
		t.Fatal("day 2 should be flagged price-imputed")
	}
	if !gapDay.Price.Equal(decimal.NewFromInt(22)) {
		t.Fatalf("day 2 should carry the last observed price 22, got %s", gapDay.Price)
	}

	if win.Days[0].WeatherImputed {
		t.Fatal("day 0 has an exact weather match and should not be imputed")
	}
	if !win.Days[1].WeatherImputed {
		t.Fatal("day 1 has no weather record and should be imputed")
	}
	if win.Days[1].Temperature != 30 {
		t.Fatalf("day 1 should carry the latest prior weather record (day 0), got temp %v", win.Days[1].Temperature)
	}
}

func TestWeatherFillNeverReadsLaterObservations(t *testing.T) {
	src := &fakeSource{
		prices: []PricePoint{
			pricePoint(0, 20),
			pricePoint(1, 21),
			pricePoint(2, 22),
			pricePoint(3, 23),
			pricePoint(4, 24),
			pricePoint(5, 25),
		},
		weather: []WeatherPoint{
			{RegionID: "r1", Date: day(2), Temperature: 30, Rainfall: 2},
			{RegionID: "r1", Date: day(5), Temperature: 40, Rainfall: 90},
		},
	}
	adapter := newTestAdapter(src, 3, 2)

	win, err := adapter.Fetch(context.Background(), "mkt_pune", "tomato", "r1", day(0), day(5))
	if err != nil {
		t.Fatalf("Fetch should succeed: %v", err)
	}

	// Days before the first observation stay zero, flagged.
	for i := 0; i < 2; i++ {
		d := win.Days[i]
		if !d.WeatherImputed || d.Temperature != 0 || d.Rainfall != 0 {
			t.Fatalf("day %d precedes all weather and must keep zero covariates, got %+v", i, d)
		}
	}

	// Day 4 sits between the two observations; it must carry day 2 even
	// though day 5 is closer by date.
	d := win.Days[4]
	if !d.WeatherImputed || d.Temperature != 30 || d.Rainfall != 2 {
		t.Fatalf("day 4 must carry the prior observation, got %+v", d)
	}
	if win.Days[5].WeatherImputed || win.Days[5].Temperature != 40 {
		t.Fatalf("day 5 has an exact match, got %+v", win.Days[5])
	}
}

func TestFetchRejectsLongGap(t *testing.T) {
	src := &fakeSource{
		prices: []PricePoint{
			pricePoint(0, 20),
			pricePoint(6, 25),
		},
	}
	adapter := newTestAdapter(src, 1, 2)

	_, err := adapter.Fetch(context.Background(), "mkt_pune", "tomato", "r1", day(0), day(6))
	if !errors.Is(err, ErrDataGap) {
		t.Fatalf("a 5-day gap with max 2 should return ErrDataGap, got %v", err)
	}
}

func TestFetchRejectsInsufficientHistory(t *testing.T) {
	src := &fakeSource{
		prices: []PricePoint{
			pricePoint(0, 20),
			pricePoint(1, 21),
			pricePoint(2, 22),
		},
	}
	adapter := newTestAdapter(src, 5, 2)

	_, err := adapter.Fetch(context.Background(), "mkt_pune", "tomato", "r1", day(0), day(2))
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("3 observed points with min 5 should return ErrInsufficientHistory, got %v", err)
	}
}

func TestFetchRejectsEmptyRange(t *testing.T) {
	adapter := newTestAdapter(&fakeSource{}, 1, 2)

	_, err := adapter.Fetch(context.Background(), "mkt_pune", "tomato", "r1", day(0), day(10))
	if !errors.Is(err, ErrNoPrices) {
		t.Fatalf("empty range should return ErrNoPrices, got %v", err)
	}
}

func TestTruncateCapsWindow(t *testing.T) {
	src := &fakeSource{
		prices: []PricePoint{
			pricePoint(0, 20),
			pricePoint(1, 22),
			pricePoint(3, 24),
			pricePoint(4, 26),
		},
	}
	adapter := newTestAdapter(src, 2, 2)

	win, err := adapter.Fetch(context.Background(), "mkt_pune", "tomato", "r1", day(0), day(4))
	if err != nil {
		t.Fatalf("Fetch should succeed: %v", err)
	}

	sub := win.Truncate(day(2))
	if sub.Len() != 3 {
		t.Fatalf("truncated window should hold 3 days, got %d", sub.Len())
	}
	if !sub.LastDate().Equal(day(2)) {
		t.Fatalf("truncated window should end at day 2, got %s", sub.LastDate())
	}
	if sub.Observed != 2 {
		t.Fatalf("truncated window should recount 2 observed days, got %d", sub.Observed)
	}
	if !sub.LastPrice().Equal(decimal.NewFromInt(22)) {
		t.Fatalf("truncated last price should be the forward-filled 22, got %s", sub.LastPrice())
	}
}

func TestTrailingMaxIgnoresImputedDays(t *testing.T) {
	win := &Window{
		Days: []Day{
			{Date: day(0), Price: decimal.NewFromInt(30)},
			{Date: day(1), Price: decimal.NewFromInt(50), PriceImputed: true},
			{Date: day(2), Price: decimal.NewFromInt(25)},
		},
	}

	max := win.TrailingMaxPrice(90)
	if !max.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("trailing max should skip imputed days and return 30, got %s", max)
	}

	max = win.TrailingMaxPrice(1)
	if !max.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("trailing max over 1 day should be 25, got %s", max)
	}
}
