package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"futurecrop/internal/model"
	"futurecrop/internal/series"
	"futurecrop/internal/storage"
)

// Export renders one unit's price history, with its latest forecast band
// overlaid, as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MarketID == "" || opts.CommodityID == "" {
		return errors.New("--market and --commodity must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -a.Config.Series.LookbackDays)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	points, err := store.PricePoints(ctx, opts.MarketID, opts.CommodityID, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Msg("no price points found for export window")
		return nil
	}

	points = downsamplePoints(points, opts.MaxPoints)

	var forecast *model.Forecast
	for _, h := range a.Config.Model.HorizonDays {
		fc, err := store.LatestForecast(ctx, opts.MarketID, opts.CommodityID, h)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		forecast = &fc
		break
	}

	a.Logger.Info().
		Int("points", len(points)).
		Bool("with_forecast", forecast != nil).
		Msg("exporting unit history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, points, forecast); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, points, forecast); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []series.PricePoint, max int) []series.PricePoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]series.PricePoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []series.PricePoint, forecast *model.Forecast) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"date", "price", "unit", "kind", "low", "high", "model_version"}); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{p.Date.Format("2006-01-02"), p.Price.String(), p.Unit, "observed", "", "", ""}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	if forecast != nil {
		target := forecast.IssueDate.AddDate(0, 0, forecast.HorizonDays)
		row := []string{
			target.Format("2006-01-02"),
			forecast.PredictedPrice.String(),
			"",
			"forecast",
			forecast.ConfidenceLow.String(),
			forecast.ConfidenceHigh.String(),
			forecast.ModelVersion,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeHistoryPNG(path string, points []series.PricePoint, forecast *model.Forecast) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	xs := make([]time.Time, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.Date
		ys[i] = p.Price.InexactFloat64()
	}

	seriesList := []chart.Series{
		chart.TimeSeries{
			Name:    "price",
			XValues: xs,
			YValues: ys,
		},
	}

	if forecast != nil && len(points) > 0 {
		lastDate := points[len(points)-1].Date
		lastPrice := points[len(points)-1].Price.InexactFloat64()
		target := forecast.IssueDate.AddDate(0, 0, forecast.HorizonDays)

		seriesList = append(seriesList,
			chart.TimeSeries{
				Name:    "forecast",
				XValues: []time.Time{lastDate, target},
				YValues: []float64{lastPrice, forecast.PredictedPrice.InexactFloat64()},
				Style:   chart.Style{StrokeDashArray: []float64{4, 4}},
			},
			chart.TimeSeries{
				Name:    "low",
				XValues: []time.Time{lastDate, target},
				YValues: []float64{lastPrice, forecast.ConfidenceLow.InexactFloat64()},
				Style:   chart.Style{StrokeDashArray: []float64{2, 4}},
			},
			chart.TimeSeries{
				Name:    "high",
				XValues: []time.Time{lastDate, target},
				YValues: []float64{lastPrice, forecast.ConfidenceHigh.InexactFloat64()},
				Style:   chart.Style{StrokeDashArray: []float64{2, 4}},
			},
		)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 600,
		XAxis:  chart.XAxis{Name: "date"},
		YAxis:  chart.YAxis{Name: "price"},
		Series: seriesList,
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	defer file.Close()

	if err := graph.Render(chart.PNG, file); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
