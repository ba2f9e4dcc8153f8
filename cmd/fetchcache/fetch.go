package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/fetchcache/internal/app"
	"github.com/unkn0wn-root/fetchcache/internal/server"
)

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var warm bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the configured sources and print the render context",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app.App) error {
			r := a.Render(cmd.Context())
			if warm {
				return r.Results.Err()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(server.RenderResponse{Context: r.Context, Results: r.Results, Skipped: r.Skipped})
		}),
	}
	cmd.Flags().BoolVar(&warm, "warm", false, "Only warm the cache; fail if any source fails")
	return cmd
}
