package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"futurecrop/internal/app"
)

var (
	rankCommodity string
	rankLat       float64
	rankLon       float64
	rankHorizon   int
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank markets for a commodity by forecast price net of transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rankCommodity == "" {
			return fmt.Errorf("--commodity must be provided")
		}

		opts := app.RankOptions{
			CommodityID: rankCommodity,
			Latitude:    rankLat,
			Longitude:   rankLon,
			HorizonDays: rankHorizon,
		}
		return getApp().Rank(cmd.Context(), opts)
	},
}

func init() {
	rankCmd.Flags().StringVar(&rankCommodity, "commodity", "", "Commodity id to rank markets for")
	rankCmd.Flags().Float64Var(&rankLat, "lat", 0, "Origin latitude")
	rankCmd.Flags().Float64Var(&rankLon, "lon", 0, "Origin longitude")
	rankCmd.Flags().IntVar(&rankHorizon, "horizon", 7, "Forecast horizon in days")
}
