package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cardsync/internal/cards"
	"cardsync/internal/config"
	"cardsync/internal/syncengine"
)

type uploadOptions struct {
	title        string
	cardID       string
	trackTitle   string
	trackKey     string
	overlayLabel string
	chapterTitle string
	chapterKey   string
	coverPath    string
	loudnorm     bool
}

// singleFileFlags apply to one track and chapter, so they cannot describe a
// batch.
var singleFileFlags = []string{"card", "track-title", "track-key", "overlay-label", "chapter-title", "chapter-key"}

func rejectSingleFileFlags(cmd *cobra.Command, files int) error {
	if files < 2 {
		return nil
	}
	for _, name := range singleFileFlags {
		if cmd.Flags().Changed(name) {
			return fmt.Errorf("--%s accepts a single file", name)
		}
	}
	return nil
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload audio files and save them to a card",
		Long: "Upload one or more audio files for server-side transcoding.\n\n" +
			"A single file creates a new card (or, with --card, is appended to an existing\n" +
			"card as a new chapter). Several files create one card with a chapter per file;\n" +
			"if any file fails, no card is written.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rejectSingleFileFlags(cmd, len(args)); err != nil {
				return err
			}
			if opts.loudnorm {
				cfg, err := ctx.configValue()
				if err != nil {
					return err
				}
				cfg.Content.Loudnorm = true
			}

			return ctx.withEngine(func(cfg *config.Config, engine *syncengine.Engine) error {
				progress := startProgress(cmd.ErrOrStderr())
				card, err := runUpload(cmd, engine, args, opts, progress)
				progress.Stop()
				if err != nil {
					return err
				}
				return ctx.emit(cmd, card, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Saved card %s (%s)\n", card.ID, card.Title)
					fmt.Fprintln(cmd.OutOrStdout(), renderChapters(card))
					return nil
				})
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.title, "title", "", "Card title (defaults to the first file name)")
	flags.StringVar(&opts.cardID, "card", "", "Append to this existing card instead of creating one")
	flags.StringVar(&opts.trackTitle, "track-title", "", "Override the track title")
	flags.StringVar(&opts.trackKey, "track-key", "", "Override the track key")
	flags.StringVar(&opts.overlayLabel, "overlay-label", "", "Override the track overlay label")
	flags.StringVar(&opts.chapterTitle, "chapter-title", "", "Override the chapter title")
	flags.StringVar(&opts.chapterKey, "chapter-key", "", "Override the chapter key")
	flags.StringVar(&opts.coverPath, "cover", "", "Upload this image and set it as the card cover")
	flags.BoolVar(&opts.loudnorm, "loudnorm", false, "Request loudness normalization during transcoding")
	return cmd
}

func runUpload(cmd *cobra.Command, engine *syncengine.Engine, paths []string, opts uploadOptions, progress *progressRenderer) (cards.Card, error) {
	title := strings.TrimSpace(opts.title)
	if title == "" {
		title = titleFromPath(paths[0])
	}

	var extra []syncengine.UploadOption
	if cover := strings.TrimSpace(opts.coverPath); cover != "" {
		extra = append(extra, syncengine.WithCoverImage(cover))
	}

	if len(paths) > 1 {
		return engine.UploadManyToCard(cmd.Context(), paths, title, progress.Channel(), extra...)
	}

	trackOv := &cards.TrackOverrides{
		Title:        opts.trackTitle,
		Key:          opts.trackKey,
		OverlayLabel: opts.overlayLabel,
	}
	chapterOv := &cards.ChapterOverrides{
		Title: opts.chapterTitle,
		Key:   opts.chapterKey,
	}
	if id := strings.TrimSpace(opts.cardID); id != "" {
		return engine.UploadAudioToExistingCard(cmd.Context(), paths[0], id, trackOv, chapterOv, progress.Channel(), extra...)
	}
	return engine.UploadAudioToCard(cmd.Context(), paths[0], title, trackOv, chapterOv, progress.Channel(), extra...)
}

// titleFromPath turns "bedtime_story-01.mp3" into "Bedtime Story 01".
func titleFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return "Untitled"
	}
	return cases.Title(language.English).String(base)
}

func renderChapters(card cards.Card) string {
	rows := make([][]string, 0, card.ChapterCount())
	for _, ch := range card.Chapters {
		track := ""
		if len(ch.Tracks) > 0 {
			track = ch.Tracks[0].Title
		}
		rows = append(rows, []string{ch.Key, ch.Title, track, fmt.Sprintf("%d", len(ch.Tracks)), formatSeconds(ch.Duration())})
	}
	return renderTable(
		[]string{"Key", "Chapter", "First Track", "Tracks", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func formatSeconds(seconds float64) string {
	total := int(seconds + 0.5)
	if total <= 0 {
		return "-"
	}
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
