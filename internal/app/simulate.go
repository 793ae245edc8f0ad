package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"futurecrop/internal/alerting"
	"futurecrop/internal/model"
)

// SimulateAlertOptions feed a synthetic forecast through the alert engine.
type SimulateAlertOptions struct {
	MarketID    string
	CommodityID string
	Predicted   float64
	Current     float64
	HorizonDays int
}

// SimulateAlert evaluates the configured farmer thresholds against a
// synthetic forecast without touching the database. Useful for verifying
// threshold configuration before the next batch run.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateAlertOptions) error {
	com, ok := a.Config.Catalog.Commodity(opts.CommodityID)
	if !ok {
		return fmt.Errorf("unknown commodity %s", opts.CommodityID)
	}
	if _, ok := a.Config.Catalog.Market(opts.MarketID); !ok {
		return fmt.Errorf("unknown market %s", opts.MarketID)
	}
	if len(a.Config.Catalog.Farmers) == 0 {
		return errors.New("no farmers configured")
	}

	current := opts.Current
	if current <= 0 {
		current = com.BasePrice
	}
	if current <= 0 {
		return errors.New("--current must be provided when the commodity has no base price")
	}

	predicted := decimal.NewFromFloat(opts.Predicted).Round(2)
	spread := decimal.NewFromFloat(opts.Predicted * 0.05).Round(2)
	fc := model.Forecast{
		MarketID:       opts.MarketID,
		CommodityID:    opts.CommodityID,
		IssueDate:      time.Now().UTC().Truncate(24 * time.Hour),
		HorizonDays:    opts.HorizonDays,
		PredictedPrice: predicted,
		ConfidenceLow:  predicted.Sub(spread),
		ConfidenceHigh: predicted.Add(spread),
		ModelVersion:   "simulated",
	}

	base := alerting.Baseline{
		CurrentPrice: decimal.NewFromFloat(current),
		TrailingMax:  decimal.NewFromFloat(current),
	}

	store := &memoryEventStore{}
	engine := alerting.NewEngine(store, a.Logger)

	fired := 0
	for _, farmer := range a.Config.Catalog.Farmers {
		events := alerting.Evaluate(fc, base, farmer)
		n, err := engine.Record(ctx, events)
		if err != nil {
			return err
		}
		fired += n
	}

	if fired == 0 {
		fmt.Fprintln(os.Stdout, "no thresholds fired")
		return nil
	}
	for _, ev := range store.events {
		fmt.Fprintf(os.Stdout, "%s would alert %s on %s/%s (%s)\n",
			ev.ThresholdType, ev.FarmerID, ev.MarketID, ev.CommodityID, ev.ForecastRef)
	}
	return nil
}

// memoryEventStore backs simulation with the same idempotence contract as
// the database store.
type memoryEventStore struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (m *memoryEventStore) InsertEventIfAbsent(_ context.Context, ev alerting.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.events {
		if existing.FarmerID == ev.FarmerID &&
			existing.MarketID == ev.MarketID &&
			existing.CommodityID == ev.CommodityID &&
			existing.IssueDate.Equal(ev.IssueDate) &&
			existing.ThresholdType == ev.ThresholdType {
			return false, nil
		}
	}
	m.events = append(m.events, ev)
	return true, nil
}
