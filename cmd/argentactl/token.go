package main

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/argenta/argenta-backend/internal/api"
)

func tokenCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token balances and allowances",
	}

	var spender string
	approve := &cobra.Command{
		Use:   "approve [asset] [amount]",
		Short: "Allow a spender (the vault by default) to move the caller's tokens",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := api.ActionParams{Amount: args[1], Spender: spender}
			return newClient(cmd).call(cmd.Context(), http.MethodPost, "/v1/tokens/"+url.PathEscape(args[0])+"/approve", body)
		},
	}
	approve.Flags().StringVar(&spender, "spender", "", "spender address")

	balance := &cobra.Command{
		Use:   "balance [asset] [account]",
		Short: "Show an account's balance and vault allowance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/tokens/" + url.PathEscape(args[0]) + "/balances/" + url.PathEscape(args[1])
			return newClient(cmd).call(cmd.Context(), http.MethodGet, path, nil)
		},
	}

	cmd.AddCommand(approve, balance)
	return cmd
}
