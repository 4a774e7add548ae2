package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/tripnest/booking-payments/internal/domain/booking"
	"github.com/tripnest/booking-payments/internal/service/pricing"
)

func quoteCmd() *cobra.Command {
	var (
		rate       float64
		travelers  int
		mode       string
		channel    string
		feePercent float64
		currency   string
	)

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Show the price split for a booking without creating one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := pricing.NewService(pricing.Config{PlatformFeePercent: feePercent, Currency: currency})
			quote, err := svc.Calculate(pricing.Input{
				RatePerPerson: rate,
				TravelerCount: travelers,
				Mode:          booking.PaymentMode(strings.ToUpper(mode)),
				Channel:       booking.Channel(strings.ToUpper(channel)),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), quote)
		},
	}

	cmd.Flags().Float64Var(&rate, "rate", 0, "Rate per person")
	cmd.Flags().IntVar(&travelers, "travelers", 1, "Number of travelers")
	cmd.Flags().StringVar(&mode, "mode", "FULL", "Payment mode (FULL or PARTIAL)")
	cmd.Flags().StringVar(&channel, "channel", "CUSTOMER", "Booking channel (CUSTOMER or AGENCY_OFFLINE)")
	cmd.Flags().Float64Var(&feePercent, "fee-percent", 3, "Platform fee percent")
	cmd.Flags().StringVar(&currency, "currency", "INR", "Currency code")
	_ = cmd.MarkFlagRequired("rate")

	return cmd
}
