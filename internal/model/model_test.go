package model

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futurecrop/internal/catalog"
	"futurecrop/internal/features"
	"futurecrop/internal/series"
)

func day(d int) time.Time {
	return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func makeWindow(n int, price func(i int) float64) *series.Window {
	win := &series.Window{
		MarketID:    "mkt_pune",
		CommodityID: "tomato",
		RegionID:    "r1",
		Unit:        "kg",
	}
	for i := 0; i < n; i++ {
		win.Days = append(win.Days, series.Day{
			Date:        day(i),
			Price:       decimal.NewFromFloat(price(i)),
			Temperature: 28 + 3*math.Sin(float64(i)/9),
			Rainfall:    1,
		})
		win.Observed++
	}
	return win
}

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Markets: []catalog.Market{
			{ID: "mkt_pune", Name: "Pune", RegionID: "r1", Commodities: []string{"tomato"}},
		},
		Commodities: []catalog.Commodity{
			{ID: "tomato", Name: "Tomato", Unit: "kg", Volatility: catalog.VolatilityHigh, WeightFactor: 1},
		},
	}
}

func TestBaselinePredictIsDeterministicAndOrdered(t *testing.T) {
	win := makeWindow(40, func(i int) float64 {
		p := 20.0
		if i%2 == 0 {
			p += 2
		}
		if i == 35 {
			p += 1 // rainfall-driven spike
		}
		return p
	})
	builder := features.NewBuilder(features.Options{
		Lags:           []int{1, 7, 14, 30},
		RollingWindows: []int{7, 30},
		SeasonalDays:   90,
	})
	vec, err := builder.Build(win, day(39))
	if err != nil {
		t.Fatalf("Build should succeed: %v", err)
	}

	predictor := NewPredictor(NewRegistry(), testCatalog(), Options{
		MinHorizonDays:  1,
		MaxHorizonDays:  30,
		RetrainInterval: time.Hour,
	})

	fc, err := predictor.Predict(vec, 7)
	if err != nil {
		t.Fatalf("Predict should succeed: %v", err)
	}

	if fc.ModelVersion != BaselineVersion {
		t.Fatalf("empty registry should serve the baseline, got version %s", fc.ModelVersion)
	}
	if !fc.Stale {
		t.Fatal("baseline forecasts should be flagged stale")
	}
	if fc.ConfidenceLow.GreaterThan(fc.PredictedPrice) || fc.PredictedPrice.GreaterThan(fc.ConfidenceHigh) {
		t.Fatalf("interval should bracket the point: [%s, %s] around %s",
			fc.ConfidenceLow, fc.ConfidenceHigh, fc.PredictedPrice)
	}
	if !fc.PredictedPrice.GreaterThan(vec.AnchorPrice) {
		t.Fatalf("baseline carries a slight upward drift, got %s from anchor %s", fc.PredictedPrice, vec.AnchorPrice)
	}
	if fc.HorizonDays != 7 || !fc.IssueDate.Equal(day(39)) {
		t.Fatalf("forecast identity mismatch: horizon %d, issue %s", fc.HorizonDays, fc.IssueDate)
	}

	again, err := predictor.Predict(vec, 7)
	if err != nil {
		t.Fatalf("repeat Predict should succeed: %v", err)
	}
	if !again.PredictedPrice.Equal(fc.PredictedPrice) ||
		!again.ConfidenceLow.Equal(fc.ConfidenceLow) ||
		!again.ConfidenceHigh.Equal(fc.ConfidenceHigh) {
		t.Fatalf("repeated prediction differs: %+v vs %+v", again, fc)
	}
}

func TestPredictRejectsHorizonOutOfRange(t *testing.T) {
	win := makeWindow(10, func(i int) float64 { return 20 })
	builder := features.NewBuilder(features.Options{Lags: []int{1}})
	vec, err := builder.Build(win, day(9))
	if err != nil {
		t.Fatalf("Build should succeed: %v", err)
	}

	predictor := NewPredictor(NewRegistry(), testCatalog(), Options{MinHorizonDays: 1, MaxHorizonDays: 30})

	for _, h := range []int{0, -1, 31} {
		if _, err := predictor.Predict(vec, h); !errors.Is(err, ErrHorizonOutOfRange) {
			t.Fatalf("horizon %d should return ErrHorizonOutOfRange, got %v", h, err)
		}
	}
}

func TestTrainerIsDeterministic(t *testing.T) {
	win := makeWindow(70, func(i int) float64 {
		return 20 + 2*math.Sin(float64(i)/5) + 0.03*float64(i)
	})
	builder := features.NewBuilder(features.Options{Lags: []int{1, 7}, RollingWindows: []int{7}, SeasonalDays: 90})

	examples := BuildTrainingSet(win, builder, 7, 1)
	if len(examples) < minTrainExamples {
		t.Fatalf("expected a usable training set, got %d examples", len(examples))
	}

	trainedAt := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	trainer := NewTrainer(TrainOptions{Epochs: 200, LearnRate: 0.05}, zerolog.Nop())

	first, err := trainer.Train(examples, trainedAt)
	if err != nil {
		t.Fatalf("Train should succeed: %v", err)
	}
	second, err := trainer.Train(examples, trainedAt)
	if err != nil {
		t.Fatalf("second Train should succeed: %v", err)
	}

	if first.Version != second.Version {
		t.Fatalf("same inputs should yield the same version: %s vs %s", first.Version, second.Version)
	}
	for i := range first.Weights {
		if first.Weights[i] != second.Weights[i] {
			t.Fatalf("weight %d differs between identical runs", i)
		}
	}
	if first.IsBaseline() {
		t.Fatal("trained snapshot should not report as baseline")
	}
	if first.SigmaRel <= 0 {
		t.Fatalf("calibrated sigma should be positive, got %v", first.SigmaRel)
	}

	vec := examples[len(examples)-1].Vec
	a, err := first.Predict(vec, 7)
	if err != nil {
		t.Fatalf("snapshot Predict should succeed: %v", err)
	}
	b, err := first.Predict(vec, 7)
	if err != nil {
		t.Fatalf("repeat snapshot Predict should succeed: %v", err)
	}
	if !a.PredictedPrice.Equal(b.PredictedPrice) || !a.ConfidenceLow.Equal(b.ConfidenceLow) || !a.ConfidenceHigh.Equal(b.ConfidenceHigh) {
		t.Fatalf("snapshot prediction is not deterministic: %+v vs %+v", a, b)
	}
}

type windowSource struct {
	prices  []series.PricePoint
	weather []series.WeatherPoint
}

func (s *windowSource) PricePoints(ctx context.Context, marketID, commodityID string, from, to time.Time) ([]series.PricePoint, error) {
	return s.prices, nil
}

func (s *windowSource) WeatherPoints(ctx context.Context, regionID string, from, to time.Time) ([]series.WeatherPoint, error) {
	return s.weather, nil
}

func TestTrainingSetIgnoresLaterWeather(t *testing.T) {
	prices := make([]series.PricePoint, 60)
	for i := range prices {
		prices[i] = series.PricePoint{
			MarketID:    "mkt_pune",
			CommodityID: "tomato",
			Date:        day(i),
			Price:       decimal.NewFromFloat(20 + 2*math.Sin(float64(i)/5)),
			Unit:        "kg",
		}
	}
	weatherAt := func(lastTemp, lastRain float64) []series.WeatherPoint {
		points := []series.WeatherPoint{
			{RegionID: "r1", Date: day(0), Temperature: 28, Rainfall: 1},
			{RegionID: "r1", Date: day(20), Temperature: 30, Rainfall: 3},
			{RegionID: "r1", Date: day(40), Temperature: 29, Rainfall: 2},
			{RegionID: "r1", Date: day(55), Temperature: lastTemp, Rainfall: lastRain},
		}
		return points
	}

	builder := features.NewBuilder(features.Options{Lags: []int{1, 7}, RollingWindows: []int{7}, SeasonalDays: 90})
	fetch := func(weather []series.WeatherPoint) *series.Window {
		adapter := series.NewAdapter(&windowSource{prices: prices, weather: weather},
			series.Options{MinObservations: 10, MaxGapDays: 3}, zerolog.Nop())
		win, err := adapter.Fetch(context.Background(), "mkt_pune", "tomato", "r1", day(0), day(59))
		if err != nil {
			t.Fatalf("Fetch should succeed: %v", err)
		}
		return win
	}

	base := BuildTrainingSet(fetch(weatherAt(31, 2)), builder, 7, 1)
	shifted := BuildTrainingSet(fetch(weatherAt(500, 400)), builder, 7, 1)

	if len(base) == 0 || len(base) != len(shifted) {
		t.Fatalf("training sets should be non-empty and equal-sized, got %d and %d", len(base), len(shifted))
	}

	// Every example's as-of precedes the mutated day-55 observation, so no
	// vector may change.
	for i := range base {
		if base[i].Vec.AsOf.After(day(52)) {
			t.Fatalf("example %d as-of %s should precede the outcome horizon cut", i, base[i].Vec.AsOf)
		}
		for j := range base[i].Vec.Values {
			if base[i].Vec.Values[j] != shifted[i].Vec.Values[j] {
				t.Fatalf("example %d feature %s changed with a later weather observation: %v vs %v",
					i, base[i].Vec.Names[j], base[i].Vec.Values[j], shifted[i].Vec.Values[j])
			}
		}
	}
}

func TestTrainRejectsSmallSets(t *testing.T) {
	win := makeWindow(20, func(i int) float64 { return 20 })
	builder := features.NewBuilder(features.Options{Lags: []int{1, 7}})

	examples := BuildTrainingSet(win, builder, 7, 1)
	trainer := NewTrainer(TrainOptions{}, zerolog.Nop())

	if _, err := trainer.Train(examples, time.Now()); !errors.Is(err, ErrNotEnoughExamples) {
		t.Fatalf("tiny training set should return ErrNotEnoughExamples, got %v", err)
	}
}

func TestRegistrySwapActivatesSnapshot(t *testing.T) {
	win := makeWindow(70, func(i int) float64 { return 20 + 2*math.Sin(float64(i)/5) })
	builder := features.NewBuilder(features.Options{Lags: []int{1, 7}, RollingWindows: []int{7}, SeasonalDays: 90})
	examples := BuildTrainingSet(win, builder, 7, 1)

	trainer := NewTrainer(TrainOptions{Epochs: 100}, zerolog.Nop())
	snap, err := trainer.Train(examples, time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Train should succeed: %v", err)
	}

	registry := NewRegistry()
	predictor := NewPredictor(registry, testCatalog(), Options{MinHorizonDays: 1, MaxHorizonDays: 30})

	vec, err := builder.Build(win, day(69))
	if err != nil {
		t.Fatalf("Build should succeed: %v", err)
	}

	fc, err := predictor.Predict(vec, 7)
	if err != nil {
		t.Fatalf("Predict should succeed: %v", err)
	}
	if fc.ModelVersion != BaselineVersion {
		t.Fatalf("before swap the baseline should serve, got %s", fc.ModelVersion)
	}

	registry.Swap(snap)

	fc, err = predictor.Predict(vec, 7)
	if err != nil {
		t.Fatalf("Predict after swap should succeed: %v", err)
	}
	if fc.ModelVersion != snap.Version {
		t.Fatalf("after swap the trained snapshot should serve, got %s want %s", fc.ModelVersion, snap.Version)
	}
}

func TestStaleAt(t *testing.T) {
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

	fresh := &Snapshot{Version: "m1", TrainedAt: now.Add(-30 * time.Minute), Weights: []float64{0.1}}
	if fresh.StaleAt(now, time.Hour) {
		t.Fatal("a 30-minute-old snapshot with a 1h interval should not be stale")
	}

	old := &Snapshot{Version: "m2", TrainedAt: now.Add(-2 * time.Hour), Weights: []float64{0.1}}
	if !old.StaleAt(now, time.Hour) {
		t.Fatal("a 2-hour-old snapshot with a 1h interval should be stale")
	}
	if old.StaleAt(now, 0) {
		t.Fatal("a zero interval disables staleness")
	}

	if !Baseline(catalog.VolatilityLow).StaleAt(now, time.Hour) {
		t.Fatal("the baseline should always be stale under a retraining interval")
	}
}

func TestPredictRejectsNonPositiveAnchor(t *testing.T) {
	vec := &features.Vector{MarketID: "mkt_pune", CommodityID: "tomato", AsOf: day(0)}
	snap := Baseline(catalog.VolatilityMedium)
	if _, err := snap.Predict(vec, 7); err == nil {
		t.Fatal("a zero anchor price should be rejected")
	}
}
