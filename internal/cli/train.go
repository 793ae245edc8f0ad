package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"futurecrop/internal/app"
)

var (
	trainAsOf    string
	trainHorizon int
	trainStride  int
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the forecast model offline and persist a new version",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.TrainOptions{
			HorizonDays: trainHorizon,
			Stride:      trainStride,
		}

		if trainAsOf != "" {
			asOf, err := time.Parse("2006-01-02", trainAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of value: %w", err)
			}
			opts.AsOf = asOf
		}

		version, err := getApp().Train(cmd.Context(), opts)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "trained model version %s\n", version)
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainAsOf, "as-of", "", "Training cutoff date (YYYY-MM-DD, defaults to today)")
	trainCmd.Flags().IntVar(&trainHorizon, "horizon", 7, "Forecast horizon in days to train for")
	trainCmd.Flags().IntVar(&trainStride, "stride", 1, "Stride between historical as-of dates")
}
