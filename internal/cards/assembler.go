package cards

import (
	"fmt"
	"strconv"
)

const (
	defaultTrackTitle   = "Unknown Track"
	defaultChapterTitle = "Unknown Chapter"
	defaultFormat       = "mp3"
	defaultKey          = "01"
	defaultOverlayLabel = "1"
)

// TrackOverrides replaces server-reported or default track fields. Empty
// fields are not overridden. The track URL cannot be overridden.
type TrackOverrides struct {
	Title        string
	Key          string
	OverlayLabel string
	Format       string
	Type         MediaType
	Icon         string
}

// ChapterOverrides replaces chapter fields only; it never affects the tracks
// inside the chapter.
type ChapterOverrides struct {
	Title        string
	Key          string
	OverlayLabel string
	Icon         string
}

// TrackFrom builds a track from a transcode result. Every field resolves as
// override, then server metadata, then the built-in default.
func TrackFrom(t TranscodedAudio, ov *TrackOverrides) Track {
	if ov == nil {
		ov = &TrackOverrides{}
	}
	info := t.Info
	if info == nil {
		info = &TranscodeInfo{}
	}

	track := Track{
		Title:        pick(ov.Title, info.Title, defaultTrackTitle),
		URL:          t.TrackURL(),
		Key:          pick(ov.Key, defaultKey),
		Format:       pick(ov.Format, info.Format, defaultFormat),
		Type:         MediaType(pick(string(ov.Type), string(MediaAudio))),
		Duration:     info.Duration,
		FileSize:     info.FileSize,
		Channels:     info.Channels,
		OverlayLabel: pick(ov.OverlayLabel, defaultOverlayLabel),
	}
	if ov.Icon != "" {
		track.Display = &Display{Icon16x16: ov.Icon}
	}
	return track
}

// ChapterFrom wraps a single track built from t in a new chapter. The chapter
// title falls back to the server-reported title when not overridden.
func ChapterFrom(t TranscodedAudio, trackOv *TrackOverrides, chapterOv *ChapterOverrides) Chapter {
	if chapterOv == nil {
		chapterOv = &ChapterOverrides{}
	}
	var infoTitle string
	if t.Info != nil {
		infoTitle = t.Info.Title
	}

	chapter := Chapter{
		Title:        pick(chapterOv.Title, infoTitle, defaultChapterTitle),
		Key:          pick(chapterOv.Key, defaultKey),
		OverlayLabel: pick(chapterOv.OverlayLabel, defaultOverlayLabel),
		Tracks:       []Track{TrackFrom(t, trackOv)},
	}
	if chapterOv.Icon != "" {
		chapter.Display = &Display{Icon16x16: chapterOv.Icon}
	}
	return chapter
}

// CardFrom builds a new card whose only chapter holds the track built from t.
// The card title comes from title alone.
func CardFrom(title string, t TranscodedAudio, trackOv *TrackOverrides, chapterOv *ChapterOverrides) Card {
	return Card{
		Title:    title,
		Chapters: []Chapter{ChapterFrom(t, trackOv, chapterOv)},
	}
}

// AppendChapter returns a copy of card with a new single-track chapter built
// from t added at the end. When the overrides leave them empty, the new
// chapter's key and overlay label follow its position ("03" and "3" for the
// third chapter).
func AppendChapter(card Card, t TranscodedAudio, trackOv *TrackOverrides, chapterOv *ChapterOverrides) Card {
	out := card.Clone()
	position := len(out.Chapters) + 1

	ch := ChapterOverrides{}
	if chapterOv != nil {
		ch = *chapterOv
	}
	if ch.Key == "" {
		ch.Key = fmt.Sprintf("%02d", position)
	}
	if ch.OverlayLabel == "" {
		ch.OverlayLabel = strconv.Itoa(position)
	}

	out.Chapters = append(out.Chapters, ChapterFrom(t, trackOv, &ch))
	return out
}

// CardFromMany builds a card with one chapter per transcode result, keyed by
// position. chapterTitles, when non-empty at an index, overrides that
// chapter's title.
func CardFromMany(title string, results []TranscodedAudio, chapterTitles []string) Card {
	card := Card{Title: title, Chapters: []Chapter{}}
	for i, t := range results {
		var ov ChapterOverrides
		if i < len(chapterTitles) {
			ov.Title = chapterTitles[i]
		}
		card = AppendChapter(card, t, nil, &ov)
	}
	return card
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
