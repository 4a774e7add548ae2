package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/tripnest/booking-payments/internal/bootstrap"
)

func sweepCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile pending bookings that have not moved recently",
		Long: `Checks every pending booking with a gateway order that has not been
updated for --older-than against the gateway, confirming paid bookings and
failing those whose order expired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				if !cmd.Flags().Changed("older-than") {
					olderThan = app.Config.Reconciliation.SweepOlderThan
				}
				if !cmd.Flags().Changed("limit") {
					limit = app.Config.Reconciliation.SweepBatchSize
				}

				report, err := app.Engine.Sweep(cmd.Context(), olderThan, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "Only bookings untouched for at least this long")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum bookings to check")

	return cmd
}
