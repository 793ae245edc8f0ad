package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"futurecrop/internal/catalog"
	"futurecrop/internal/compare"
)

// Rank prints candidate markets for a commodity ordered by net price from
// the given origin location.
func (a *App) Rank(ctx context.Context, opts RankOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := a.loadRegistry(ctx, store)
	runner := a.newRunner(store, registry)

	comparator := compare.New(&a.Config.Catalog, runner, compare.TransportOptions{
		PerKmRate:   a.Config.Transport.PerKmRate,
		HandlingFee: a.Config.Transport.HandlingFee,
	}, a.Logger)

	origin := catalog.Location{Latitude: opts.Latitude, Longitude: opts.Longitude}
	ranked, err := comparator.Rank(ctx, opts.CommodityID, origin, opts.HorizonDays)
	if err != nil {
		return err
	}
	if len(ranked) == 0 {
		fmt.Fprintln(os.Stdout, "no markets with sufficient history")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Market\tPredicted\tTransport\tNet\tDistance km\tModel")
	for _, r := range ranked {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%.1f\t%s\n",
			r.MarketName,
			r.PredictedPrice.StringFixed(2),
			r.TransportCost.StringFixed(2),
			r.NetPrice.StringFixed(2),
			r.DistanceKm,
			r.ModelVersion,
		)
	}
	writer.Flush()
	return nil
}
