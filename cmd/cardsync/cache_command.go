package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cardsync/internal/config"
	"cardsync/internal/requestcache"
	"cardsync/internal/syncengine"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the request cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show request cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				cache := engine.Cache()
				if cache == nil {
					return ctx.emit(cmd, map[string]bool{"enabled": false}, func() error {
						fmt.Fprintln(cmd.OutOrStdout(), "Request cache is disabled (cache.enabled = false)")
						return nil
					})
				}
				stats, err := cache.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return ctx.emit(cmd, stats, func() error {
					fmt.Fprintln(cmd.OutOrStdout(), renderCacheStats(stats))
					return nil
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				cache := engine.Cache()
				if cache == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Request cache is disabled; nothing to clear")
					return nil
				}
				if err := cache.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Request cache cleared")
				return nil
			})
		},
	})

	return cmd
}

func renderCacheStats(stats requestcache.Stats) string {
	return renderDetails([][2]string{
		{"Backend", stats.Backend},
		{"Entries", strconv.Itoa(stats.Entries)},
		{"Size", fmt.Sprintf("%d bytes", stats.Bytes)},
		{"Hits", strconv.FormatUint(stats.Hits, 10)},
		{"Misses", strconv.FormatUint(stats.Misses, 10)},
		{"Integrity errors", strconv.FormatUint(stats.IntegrityErrors, 10)},
	})
}
