package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/fetchcache/internal/app"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Administer the shared cache",
	}

	var prefix string
	var locks bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached entries (all, or those whose key starts with --prefix)",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, func(cmd *cobra.Command, _ []string, a *app.App) error {
			ctx := cmd.Context()
			if err := a.Orchestrator.ClearByPrefix(ctx, prefix); err != nil {
				return fmt.Errorf("clear entries: %w", err)
			}
			if prefix == "" && a.Profile != nil {
				if err := a.Profile.Clear(ctx); err != nil {
					return fmt.Errorf("clear profile: %w", err)
				}
			}
			if locks {
				if err := a.Orchestrator.ClearLocks(ctx); err != nil {
					return fmt.Errorf("clear locks: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		}),
	}
	clearCmd.Flags().StringVar(&prefix, "prefix", "", "Only drop keys with this prefix, e.g. http_ or list_")
	clearCmd.Flags().BoolVar(&locks, "locks", false, "Also drop lock records")

	cmd.AddCommand(clearCmd)
	return cmd
}
