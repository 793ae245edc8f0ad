package alerting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futurecrop/internal/catalog"
	"futurecrop/internal/model"
)

type memoryStore struct {
	events map[string]Event
}

func newMemoryStore() *memoryStore {
	return &memoryStore{events: make(map[string]Event)}
}

func (m *memoryStore) InsertEventIfAbsent(ctx context.Context, ev Event) (bool, error) {
	key := fmt.Sprintf("%s|%s|%s|%s|%s",
		ev.FarmerID, ev.MarketID, ev.CommodityID, ev.IssueDate.UTC().Format("2006-01-02"), ev.ThresholdType)
	if _, ok := m.events[key]; ok {
		return false, nil
	}
	m.events[key] = ev
	return true, nil
}

func testForecast(predicted, high float64) model.Forecast {
	return model.Forecast{
		MarketID:       "mkt_pune",
		CommodityID:    "tomato",
		IssueDate:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		HorizonDays:    7,
		PredictedPrice: decimal.NewFromFloat(predicted),
		ConfidenceLow:  decimal.NewFromFloat(predicted * 0.95),
		ConfidenceHigh: decimal.NewFromFloat(high),
		ModelVersion:   "m20260401060000-deadbeef",
	}
}

func TestAbsoluteThresholdFiresOnceAcrossReruns(t *testing.T) {
	farmer := catalog.Farmer{ID: "f1", Thresholds: []catalog.Threshold{
		{Type: ThresholdAbsolutePriceAbove, Value: 25, CommodityID: "tomato"},
	}}
	fc := testForecast(27, 28)
	base := Baseline{CurrentPrice: decimal.NewFromInt(22)}

	events := Evaluate(fc, base, farmer)
	if len(events) != 1 {
		t.Fatalf("predicted 27 over threshold 25 should fire one event, got %d", len(events))
	}
	ev := events[0]
	if ev.ThresholdType != ThresholdAbsolutePriceAbove || ev.FarmerID != "f1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.ForecastRef != "mkt_pune/tomato/2026-04-01/h7/m20260401060000-deadbeef" {
		t.Fatalf("unexpected forecast ref %s", ev.ForecastRef)
	}

	store := newMemoryStore()
	engine := NewEngine(store, zerolog.Nop())

	inserted, err := engine.Record(context.Background(), events)
	if err != nil {
		t.Fatalf("Record should succeed: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("first run should insert 1 event, got %d", inserted)
	}

	// Re-running the same day must not duplicate the alert.
	inserted, err = engine.Record(context.Background(), Evaluate(fc, base, farmer))
	if err != nil {
		t.Fatalf("repeat Record should succeed: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("rerun should insert nothing, got %d", inserted)
	}
	if len(store.events) != 1 {
		t.Fatalf("store should hold exactly one event, got %d", len(store.events))
	}
}

func TestAbsoluteThresholdRequiresStrictExceed(t *testing.T) {
	farmer := catalog.Farmer{ID: "f1", Thresholds: []catalog.Threshold{
		{Type: ThresholdAbsolutePriceAbove, Value: 25, CommodityID: "tomato"},
	}}

	if events := Evaluate(testForecast(25, 26), Baseline{}, farmer); len(events) != 0 {
		t.Fatalf("predicted equal to the threshold should not fire, got %d events", len(events))
	}
}

func TestPercentIncreaseThreshold(t *testing.T) {
	farmer := catalog.Farmer{ID: "f1", Thresholds: []catalog.Threshold{
		{Type: ThresholdPercentIncreaseOverBaseline, Value: 10, CommodityID: "tomato"},
	}}
	base := Baseline{CurrentPrice: decimal.NewFromInt(20)}

	if events := Evaluate(testForecast(22, 23), base, farmer); len(events) != 1 {
		t.Fatal("a 10% rise against baseline 20 should fire at exactly 22")
	}
	if events := Evaluate(testForecast(21.9, 23), base, farmer); len(events) != 0 {
		t.Fatal("a rise under 10% should not fire")
	}
	if events := Evaluate(testForecast(22, 23), Baseline{}, farmer); len(events) != 0 {
		t.Fatal("a zero baseline cannot fire a percent threshold")
	}
}

func TestPeakWithinHorizonThreshold(t *testing.T) {
	farmer := catalog.Farmer{ID: "f1", Thresholds: []catalog.Threshold{
		{Type: ThresholdPeakWithinHorizon, CommodityID: "tomato"},
	}}
	base := Baseline{CurrentPrice: decimal.NewFromInt(22), TrailingMax: decimal.NewFromInt(28)}

	if events := Evaluate(testForecast(27, 29), base, farmer); len(events) != 1 {
		t.Fatal("confidence high 29 over trailing max 28 should fire")
	}
	if events := Evaluate(testForecast(27, 28), base, farmer); len(events) != 0 {
		t.Fatal("confidence high equal to trailing max should not fire")
	}
}

func TestEvaluateFiltersByCommodityAndMarket(t *testing.T) {
	farmer := catalog.Farmer{ID: "f1", Thresholds: []catalog.Threshold{
		{Type: ThresholdAbsolutePriceAbove, Value: 1, CommodityID: "onion"},
		{Type: ThresholdAbsolutePriceAbove, Value: 1, CommodityID: "tomato", MarketID: "mkt_delhi"},
		{Type: ThresholdAbsolutePriceAbove, Value: 1, CommodityID: "tomato", MarketID: "mkt_pune"},
	}}

	events := Evaluate(testForecast(27, 28), Baseline{}, farmer)
	if len(events) != 1 {
		t.Fatalf("only the matching (commodity, market) threshold should fire, got %d", len(events))
	}
	if events[0].MarketID != "mkt_pune" {
		t.Fatalf("unexpected market %s", events[0].MarketID)
	}
}

func TestUnknownThresholdTypeNeverFires(t *testing.T) {
	farmer := catalog.Farmer{ID: "f1", Thresholds: []catalog.Threshold{
		{Type: "price_below", Value: 100, CommodityID: "tomato"},
	}}
	if events := Evaluate(testForecast(27, 28), Baseline{}, farmer); len(events) != 0 {
		t.Fatal("unknown threshold types should be ignored")
	}
}
