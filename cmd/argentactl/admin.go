package main

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/argenta/argenta-backend/internal/api"
)

func adminCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrator configuration of feeds and collateral",
	}
	cmd.AddCommand(setFeedCmd(newClient), setCollateralCmd(newClient))
	return cmd
}

func setFeedCmd(newClient clientFactory) *cobra.Command {
	var body api.ActionParams
	cmd := &cobra.Command{
		Use:   "set-feed [asset] [provider-symbol]",
		Short: "Point an asset's price feed at a provider symbol",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body.ProviderSymbol = args[1]
			return newClient(cmd).call(cmd.Context(), http.MethodPut, "/v1/admin/feeds/"+url.PathEscape(args[0]), body)
		},
	}
	cmd.Flags().Uint8Var(&body.Decimals, "decimals", 0, "feed answer decimals (server default when 0)")
	return cmd
}

func setCollateralCmd(newClient clientFactory) *cobra.Command {
	var (
		body   api.ActionParams
		active bool
	)
	cmd := &cobra.Command{
		Use:   "set-collateral [asset]",
		Short: "Set an asset's collateral ratios, deposit cap and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("active") {
				body.Active = &active
			}
			return newClient(cmd).call(cmd.Context(), http.MethodPut, "/v1/admin/collateral/"+url.PathEscape(args[0]), body)
		},
	}
	cmd.Flags().Uint64Var(&body.MinRatioBps, "min-ratio-bps", 0, "minimum collateral ratio in basis points")
	cmd.Flags().Uint64Var(&body.LiqThresholdBps, "liq-threshold-bps", 0, "liquidation threshold in basis points")
	cmd.Flags().StringVar(&body.DepositCap, "cap", "", "deposit cap in whole token units (0 blocks deposits)")
	cmd.Flags().BoolVar(&active, "active", true, "whether the asset accepts deposits")
	cmd.MarkFlagRequired("min-ratio-bps")
	cmd.MarkFlagRequired("liq-threshold-bps")
	return cmd
}
