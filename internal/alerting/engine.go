package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futurecrop/internal/catalog"
	"futurecrop/internal/model"
)

// Threshold types a farmer can configure.
const (
	ThresholdAbsolutePriceAbove          = "absolute_price_above"
	ThresholdPercentIncreaseOverBaseline = "percent_increase_over_baseline"
	ThresholdPeakWithinHorizon           = "peak_within_horizon"
)

// Event is one fired alert condition. It is consumed and retired by the
// notification collaborator; the engine only creates it.
type Event struct {
	FarmerID      string
	MarketID      string
	CommodityID   string
	IssueDate     time.Time
	ThresholdType string
	ForecastRef   string
	CreatedAt     time.Time
}

// Baseline carries the observed quantities thresholds compare against.
type Baseline struct {
	// CurrentPrice is the last observed price at issue date.
	CurrentPrice decimal.Decimal
	// TrailingMax is the maximum observed price over the trailing 90 days.
	TrailingMax decimal.Decimal
}

// EventStore persists events at most once per
// (farmer, market, commodity, issue_date, threshold_type).
type EventStore interface {
	InsertEventIfAbsent(ctx context.Context, ev Event) (bool, error)
}

// Engine evaluates forecasts against farmer thresholds and records fired
// events. Evaluation itself is pure; only Record touches storage.
type Engine struct {
	store  EventStore
	logger zerolog.Logger
}

// NewEngine constructs the alert engine.
func NewEngine(store EventStore, logger zerolog.Logger) *Engine {
	return &Engine{store: store, logger: logger.With().Str("component", "alert_engine").Logger()}
}

// Evaluate returns the events fired by one forecast for one farmer. It never
// mutates its inputs; identical inputs yield identical events.
func Evaluate(fc model.Forecast, base Baseline, farmer catalog.Farmer) []Event {
	var events []Event
	for _, th := range farmer.Thresholds {
		if th.CommodityID != fc.CommodityID {
			continue
		}
		if th.MarketID != "" && th.MarketID != fc.MarketID {
			continue
		}
		if !fires(fc, base, th) {
			continue
		}
		events = append(events, Event{
			FarmerID:      farmer.ID,
			MarketID:      fc.MarketID,
			CommodityID:   fc.CommodityID,
			IssueDate:     fc.IssueDate,
			ThresholdType: th.Type,
			ForecastRef:   ForecastRef(fc),
		})
	}
	return events
}

func fires(fc model.Forecast, base Baseline, th catalog.Threshold) bool {
	switch th.Type {
	case ThresholdAbsolutePriceAbove:
		return fc.PredictedPrice.GreaterThan(decimal.NewFromFloat(th.Value))
	case ThresholdPercentIncreaseOverBaseline:
		if base.CurrentPrice.IsZero() {
			return false
		}
		target := base.CurrentPrice.Mul(decimal.NewFromFloat(1 + th.Value/100))
		return fc.PredictedPrice.GreaterThanOrEqual(target)
	case ThresholdPeakWithinHorizon:
		if base.TrailingMax.IsZero() {
			return false
		}
		return fc.ConfidenceHigh.GreaterThan(base.TrailingMax)
	default:
		return false
	}
}

// Record persists fired events, skipping duplicates for the same issue date.
// Returns the number of newly stored events.
func (e *Engine) Record(ctx context.Context, events []Event) (int, error) {
	inserted := 0
	for _, ev := range events {
		ok, err := e.store.InsertEventIfAbsent(ctx, ev)
		if err != nil {
			return inserted, fmt.Errorf("store alert event: %w", err)
		}
		if !ok {
			continue
		}
		inserted++
		e.logger.Info().
			Str("farmer", ev.FarmerID).
			Str("market", ev.MarketID).
			Str("commodity", ev.CommodityID).
			Str("threshold", ev.ThresholdType).
			Time("issue_date", ev.IssueDate).
			Msg("alert event recorded")
	}
	return inserted, nil
}

// ForecastRef renders the stable reference binding an event to the forecast
// that fired it.
func ForecastRef(fc model.Forecast) string {
	return fmt.Sprintf("%s/%s/%s/h%d/%s",
		fc.MarketID, fc.CommodityID, fc.IssueDate.UTC().Format("2006-01-02"), fc.HorizonDays, fc.ModelVersion)
}
