package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cardsync/internal/config"
	"cardsync/internal/syncengine"
	"cardsync/internal/versions"
)

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Browse and restore local card snapshots",
		Long: "Every successful save writes a snapshot under paths.versions_dir.\n\n" +
			"<card> is a card ID, or the title of a card that was never saved to the cloud.\n" +
			"<version> is a position from 'versions list' (1 is newest) or a snapshot name.",
	}

	cmd.AddCommand(newVersionsListCommand(ctx))
	cmd.AddCommand(newVersionsShowCommand(ctx))
	cmd.AddCommand(newVersionsRestoreCommand(ctx))
	cmd.AddCommand(newVersionsDeleteCommand(ctx))

	return cmd
}

type versionRow struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

func newVersionsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list [card]",
		Short: "List snapshots for a card, or the cards that have snapshots",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				store := engine.Versions()
				out := cmd.OutOrStdout()

				if len(args) == 0 {
					keys, err := store.Cards()
					if err != nil {
						return err
					}
					return ctx.emit(cmd, keys, func() error {
						if len(keys) == 0 {
							fmt.Fprintln(out, "No snapshots recorded")
							return nil
						}
						rows := make([][]string, 0, len(keys))
						for _, key := range keys {
							refs, err := store.List(key)
							if err != nil {
								return err
							}
							rows = append(rows, []string{key, strconv.Itoa(len(refs)), refs[0].Timestamp.Local().Format(time.DateTime)})
						}
						fmt.Fprintln(out, renderTable([]string{"Card", "Versions", "Latest"}, rows,
							[]columnAlignment{alignLeft, alignRight, alignLeft}))
						return nil
					})
				}

				refs, err := store.List(args[0])
				if err != nil {
					return err
				}
				listing := make([]versionRow, 0, len(refs))
				for i, ref := range refs {
					listing = append(listing, versionRow{Index: i + 1, Name: ref.Name, Timestamp: ref.Timestamp})
				}
				return ctx.emit(cmd, listing, func() error {
					if len(listing) == 0 {
						fmt.Fprintf(out, "No snapshots for %s\n", args[0])
						return nil
					}
					rows := make([][]string, 0, len(listing))
					for _, row := range listing {
						rows = append(rows, []string{strconv.Itoa(row.Index), row.Timestamp.Local().Format(time.DateTime), row.Name})
					}
					fmt.Fprintln(out, renderTable([]string{"#", "Saved", "Name"}, rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft}))
					return nil
				})
			})
		},
	}
}

func newVersionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <card> <version>",
		Short: "Show a stored snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				ref, err := resolveVersion(engine.Versions(), args[0], args[1])
				if err != nil {
					return err
				}
				snap, err := engine.Versions().Load(ref)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, snap, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Snapshot %s (saved %s)\n", ref.Name, snap.Timestamp.Local().Format(time.DateTime))
					fmt.Fprintln(out, renderCardSummary(snap.Card))
					fmt.Fprintln(out, renderChapters(snap.Card))
					return nil
				})
			})
		},
	}
}

func newVersionsRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <card> <version>",
		Short: "Push a stored snapshot back to the cloud",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				ref, err := resolveVersion(engine.Versions(), args[0], args[1])
				if err != nil {
					return err
				}
				card, err := engine.RestoreVersion(cmd.Context(), ref)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, card, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Restored card %s from %s\n", card.ID, ref.Name)
					return nil
				})
			})
		},
	}
}

func newVersionsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <card> <version>",
		Short: "Delete a stored snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				ref, err := resolveVersion(engine.Versions(), args[0], args[1])
				if err != nil {
					return err
				}
				if err := engine.Versions().Delete(ref); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted snapshot %s\n", ref.Name)
				return nil
			})
		},
	}
}

// resolveVersion accepts either a 1-based position in the newest-first
// listing or a snapshot name.
func resolveVersion(store *versions.Store, card, version string) (versions.Ref, error) {
	version = strings.TrimSpace(version)
	if n, err := strconv.Atoi(version); err == nil {
		refs, err := store.List(card)
		if err != nil {
			return versions.Ref{}, err
		}
		if n < 1 || n > len(refs) {
			return versions.Ref{}, fmt.Errorf("version %d out of range (card %s has %d)", n, card, len(refs))
		}
		return refs[n-1], nil
	}
	return store.Resolve(card, version)
}
