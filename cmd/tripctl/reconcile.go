package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tripnest/booking-payments/internal/bootstrap"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [booking-id]",
		Short: "Check one booking against the gateway and apply the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid booking id %q: %w", args[0], err)
			}

			return withApp(cmd.Context(), func(app *bootstrap.App) error {
				rec, err := app.Engine.HandleReturn(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}
