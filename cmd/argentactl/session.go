package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/argenta/argenta-backend/internal/api"
)

func sessionCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Delegated call permissions and execution",
	}
	cmd.AddCommand(grantCmd(newClient), revokeCmd(newClient), permissionsCmd(newClient), executeCmd(newClient))
	return cmd
}

func grantCmd(newClient clientFactory) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "grant [target] [selector]",
		Short: "Let the executor call target with selector on the caller's behalf",
		Long: "selector is either 0x-prefixed 4 bytes or a function signature such as\n" +
			"\"transfer(address,uint256)\".",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := api.ActionParams{Target: args[0], Selector: args[1]}
			if ttl > 0 {
				expiry := time.Now().Add(ttl).UTC()
				body.Expiry = &expiry
			}
			return newClient(cmd).call(cmd.Context(), http.MethodPost, "/v1/sessions/permissions", body)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "grant lifetime (0 never expires)")
	return cmd
}

func revokeCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [grant-id]",
		Short: "Revoke one of the caller's grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid grant id: %w", err)
			}
			return newClient(cmd).call(cmd.Context(), http.MethodDelete, fmt.Sprintf("/v1/sessions/permissions/%d", id), nil)
		},
	}
}

func permissionsCmd(newClient clientFactory) *cobra.Command {
	var granter string
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "List grants, optionally for one granter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/sessions/permissions"
			if granter != "" {
				path += "?granter=" + url.QueryEscape(granter)
			}
			return newClient(cmd).call(cmd.Context(), http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVar(&granter, "granter", "", "granter address")
	return cmd
}

func executeCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "execute [on-behalf-of] [target] [calldata]",
		Short: "Forward 0x-encoded calldata to target under a granter's permission",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hexutil.Decode(args[2])
			if err != nil {
				return fmt.Errorf("invalid calldata: %w", err)
			}
			body := api.ActionParams{OnBehalfOf: args[0], Target: args[1], Data: data}
			return newClient(cmd).call(cmd.Context(), http.MethodPost, "/v1/sessions/execute", body)
		},
	}
}
