package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/argenta/argenta-backend/internal/api"
)

func positionCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "position",
		Aliases: []string{"vault"},
		Short:   "Open, fund, borrow against and close positions",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "open",
			Short: "Open an empty position owned by the caller",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return newClient(cmd).call(cmd.Context(), http.MethodPost, "/v1/positions", nil)
			},
		},
		&cobra.Command{
			Use:   "show [id]",
			Short: "Show a position with its current health",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return fmt.Errorf("invalid position id: %w", err)
				}
				return newClient(cmd).call(cmd.Context(), http.MethodGet, fmt.Sprintf("/v1/positions/%d", id), nil)
			},
		},
		&cobra.Command{
			Use:   "health [id]",
			Short: "Value a position against its debt",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return fmt.Errorf("invalid position id: %w", err)
				}
				return newClient(cmd).call(cmd.Context(), http.MethodGet, fmt.Sprintf("/v1/positions/%d/health", id), nil)
			},
		},
		listPositionsCmd(newClient),
		positionActionCmd(newClient, "deposit [id] [asset] [amount]", "collateral", "Deposit collateral from the caller's balance", 3),
		positionActionCmd(newClient, "withdraw [id] [asset] [amount]", "withdraw", "Withdraw collateral to the caller", 3),
		positionActionCmd(newClient, "borrow [id] [amount]", "borrow", "Mint stable units against the position", 2),
		positionActionCmd(newClient, "repay [id] [amount]", "repay", "Burn the caller's stable units against the debt", 2),
		positionActionCmd(newClient, "close [id]", "close", "Close a debt-free position and sweep its collateral", 1),
		positionActionCmd(newClient, "liquidate [id]", "liquidate", "Repay an unhealthy position's debt and seize its collateral", 1),
	)
	return cmd
}

func listPositionsCmd(newClient clientFactory) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List positions, optionally for one owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/positions"
			if owner != "" {
				path += "?owner=" + url.QueryEscape(owner)
			}
			return newClient(cmd).call(cmd.Context(), http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address")
	return cmd
}

// positionActionCmd builds a POST /v1/positions/{id}/{action} command. With
// three args the middle one is the asset; with two the second is the amount.
func positionActionCmd(newClient clientFactory, use, action, short string, nargs int) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid position id: %w", err)
			}
			var body api.ActionParams
			switch nargs {
			case 3:
				body.Asset, body.Amount = args[1], args[2]
			case 2:
				body.Amount = args[1]
			}
			return newClient(cmd).call(cmd.Context(), http.MethodPost, fmt.Sprintf("/v1/positions/%d/%s", id, action), body)
		},
	}
}
