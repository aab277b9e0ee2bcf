package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	apiURL string
	caller string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "argentactl",
		Short:         "Command line client for the Argenta stablecoin API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("ARG_API_URL", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVar(&opts.caller, "from", os.Getenv("ARG_CALLER"), "caller address sent as X-Caller")

	newClientFor := func(cmd *cobra.Command) *client {
		return newClient(opts.apiURL, opts.caller, cmd.OutOrStdout())
	}

	cmd.AddCommand(
		positionCmd(newClientFor),
		adminCmd(newClientFor),
		tokenCmd(newClientFor),
		sessionCmd(newClientFor),
		queryCmd(newClientFor),
	)
	return cmd
}

type clientFactory func(cmd *cobra.Command) *client

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
