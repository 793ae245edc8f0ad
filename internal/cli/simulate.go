package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"futurecrop/internal/app"
)

var (
	simulateMarket    string
	simulateCommodity string
	simulatePredicted float64
	simulateCurrent   float64
	simulateHorizon   int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate farmer thresholds against a synthetic forecast",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateMarket == "" || simulateCommodity == "" {
			return errors.New("--market and --commodity must be provided")
		}
		if simulatePredicted <= 0 {
			return errors.New("--predicted must be greater than 0")
		}

		opts := app.SimulateAlertOptions{
			MarketID:    simulateMarket,
			CommodityID: simulateCommodity,
			Predicted:   simulatePredicted,
			Current:     simulateCurrent,
			HorizonDays: simulateHorizon,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMarket, "market", "", "Market id")
	simulateCmd.Flags().StringVar(&simulateCommodity, "commodity", "", "Commodity id")
	simulateCmd.Flags().Float64Var(&simulatePredicted, "predicted", 0, "Synthetic predicted price")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "Current observed price (defaults to commodity base price)")
	simulateCmd.Flags().IntVar(&simulateHorizon, "horizon", 7, "Forecast horizon in days")
}
