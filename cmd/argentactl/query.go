package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func queryCmd(newClient clientFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "query",
		Aliases: []string{"q"},
		Short:   "Read protocol state",
	}

	get := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return newClient(cmd).call(cmd.Context(), http.MethodGet, path, nil)
			},
		}
	}

	price := &cobra.Command{
		Use:   "price [asset]",
		Short: "Read an asset's oracle price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(cmd).call(cmd.Context(), http.MethodGet, "/v1/prices/"+url.PathEscape(args[0]), nil)
		},
	}

	var (
		after    uint64
		limit    int
		position uint64
	)
	evts := &cobra.Command{
		Use:   "events",
		Short: "Page through committed protocol events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("after", fmt.Sprint(after))
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			if cmd.Flags().Changed("position") {
				q.Set("position", fmt.Sprint(position))
			}
			return newClient(cmd).call(cmd.Context(), http.MethodGet, "/v1/events?"+q.Encode(), nil)
		},
	}
	evts.Flags().Uint64Var(&after, "after", 0, "return events with a sequence above this")
	evts.Flags().IntVar(&limit, "limit", 0, "maximum number of events")
	evts.Flags().Uint64Var(&position, "position", 0, "only events touching this position")

	cmd.AddCommand(
		get("protocol", "Show the protocol summary", "/v1/protocol"),
		get("assets", "List collateral assets with their feeds", "/v1/assets"),
		price,
		evts,
	)
	return cmd
}
