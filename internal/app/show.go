package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// Show prints recent forecasts, or recent alert events with --alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Alerts {
		events, err := store.ListRecentAlertEvents(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stdout, "no alert events found")
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Farmer\tMarket\tCommodity\tIssue Date\tThreshold\tForecast")
		for _, ev := range events {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
				ev.FarmerID,
				ev.MarketID,
				ev.CommodityID,
				ev.IssueDate.Format("2006-01-02"),
				ev.ThresholdType,
				ev.ForecastRef,
			)
		}
		writer.Flush()
		return nil
	}

	forecasts, err := store.ListRecentForecasts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(forecasts) == 0 {
		fmt.Fprintln(os.Stdout, "no forecasts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Market\tCommodity\tIssue Date\tHorizon\tPredicted\tLow\tHigh\tModel\tStale")
	for _, fc := range forecasts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%dd\t%s\t%s\t%s\t%s\t%v\n",
			fc.MarketID,
			fc.CommodityID,
			fc.IssueDate.Format("2006-01-02"),
			fc.HorizonDays,
			fc.PredictedPrice.StringFixed(2),
			fc.ConfidenceLow.StringFixed(2),
			fc.ConfidenceHigh.StringFixed(2),
			fc.ModelVersion,
			fc.Stale,
		)
	}
	writer.Flush()
	return nil
}
