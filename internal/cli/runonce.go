package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"futurecrop/internal/app"
)

var (
	runOnceDate       string
	runOnceInitSchema bool
)

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Execute one forecast batch and print the per-unit summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		runDate := time.Now().UTC()
		if runOnceDate != "" {
			parsed, err := time.Parse("2006-01-02", runOnceDate)
			if err != nil {
				return fmt.Errorf("invalid --date value: %w", err)
			}
			runDate = parsed
		}

		summary, err := getApp().RunOnce(cmd.Context(), app.RunOnceOptions{
			RunDate:    runDate,
			InitSchema: runOnceInitSchema,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d units, %d succeeded, %d skipped, %d failed\n",
			summary.RunDate.Format("2006-01-02"), summary.Total(), summary.Succeeded, summary.Skipped, summary.Failed)
		return nil
	},
}

func init() {
	runOnceCmd.Flags().StringVar(&runOnceDate, "date", "", "Run date (YYYY-MM-DD, defaults to today)")
	runOnceCmd.Flags().BoolVar(&runOnceInitSchema, "init-schema", false, "Create missing database tables before running")
}
