package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"cardsync/internal/cards"
	"cardsync/internal/config"
	"cardsync/internal/requestcache"
	"cardsync/internal/syncengine"
)

func newCardCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "card",
		Short: "Manage cards in the cloud library",
	}
	cmd.PersistentFlags().BoolVar(&refresh, "refresh", false, "Bypass cached responses")

	requestContext := func(cmd *cobra.Command) context.Context {
		if refresh {
			return requestcache.WithRefresh(cmd.Context())
		}
		return cmd.Context()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the cards in your library",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				library, err := engine.Library(requestContext(cmd))
				if err != nil {
					return err
				}
				sort.SliceStable(library, func(i, j int) bool {
					return strings.ToLower(library[i].Title) < strings.ToLower(library[j].Title)
				})
				return ctx.emit(cmd, library, func() error {
					if len(library) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No cards in library")
						return nil
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderLibrary(library))
					return nil
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one card and its chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				card, err := engine.Card(requestContext(cmd), args[0])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, card, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprintln(out, renderCardSummary(card))
					fmt.Fprintln(out, renderChapters(card))
					return nil
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cover <id> <image>",
		Short: "Upload an image and set it as the card cover",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				card, err := engine.SetCover(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return ctx.emit(cmd, card, func() error {
					fmt.Fprintln(cmd.OutOrStdout(), renderCardSummary(card))
					return nil
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a card from the cloud (local versions are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(func(_ *config.Config, engine *syncengine.Engine) error {
				if err := engine.DeleteCard(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted card %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func renderLibrary(library []cards.Card) string {
	rows := make([][]string, 0, len(library))
	for _, card := range library {
		rows = append(rows, []string{
			card.ID,
			card.Title,
			fmt.Sprintf("%d", card.ChapterCount()),
			fmt.Sprintf("%d", card.TotalTracks()),
			formatSeconds(card.TotalDuration()),
			string(card.Status),
		})
	}
	return renderTable(
		[]string{"ID", "Title", "Chapters", "Tracks", "Duration", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func renderCardSummary(card cards.Card) string {
	pairs := [][2]string{
		{"ID", card.ID},
		{"Title", card.Title},
		{"Chapters", fmt.Sprintf("%d", card.ChapterCount())},
		{"Tracks", fmt.Sprintf("%d", card.TotalTracks())},
		{"Duration", formatSeconds(card.TotalDuration())},
	}
	if card.Status != "" {
		pairs = append(pairs, [2]string{"Status", string(card.Status)})
	}
	if card.Cover != nil && card.Cover.ImageURL != "" {
		pairs = append(pairs, [2]string{"Cover", card.Cover.ImageURL})
	}
	return renderDetails(pairs)
}
