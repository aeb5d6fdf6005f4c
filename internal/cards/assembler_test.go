package cards

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestTrackFromDefaults(t *testing.T) {
	track := TrackFrom(TranscodedAudio{SHA256: testHash}, nil)

	want := Track{
		Title:        "Unknown Track",
		URL:          "source:#" + testHash,
		Key:          "01",
		Format:       "mp3",
		Type:         MediaAudio,
		OverlayLabel: "1",
	}
	if diff := cmp.Diff(want, track); diff != "" {
		t.Fatalf("track mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackFromOverridesBeatMetadata(t *testing.T) {
	transcoded := TranscodedAudio{
		SHA256: testHash,
		Info: &TranscodeInfo{
			Title:    "Server Title",
			Duration: 183.2,
			FileSize: 2_048_000,
			Channels: "stereo",
			Format:   "aac",
		},
	}
	track := TrackFrom(transcoded, &TrackOverrides{Title: "Chosen", Key: "07", OverlayLabel: "7"})

	if track.Title != "Chosen" || track.Key != "07" || track.OverlayLabel != "7" {
		t.Fatalf("overrides not applied: %+v", track)
	}
	if track.Format != "aac" {
		t.Fatalf("format should come from server metadata, got %q", track.Format)
	}
	if track.Duration != 183.2 || track.FileSize != 2_048_000 || track.Channels != "stereo" {
		t.Fatalf("metadata not carried: %+v", track)
	}
	if track.URL != "source:#"+testHash {
		t.Fatalf("unexpected url %q", track.URL)
	}
}

func TestTrackFromMetadataBeatsDefaults(t *testing.T) {
	track := TrackFrom(TranscodedAudio{SHA256: testHash, Info: &TranscodeInfo{Title: "From Server"}}, &TrackOverrides{})
	if track.Title != "From Server" {
		t.Fatalf("expected server title, got %q", track.Title)
	}
	if track.Format != "mp3" || track.Type != MediaAudio {
		t.Fatalf("expected defaults for missing metadata, got %+v", track)
	}
}

func TestTrackFromStreamTypeAndIcon(t *testing.T) {
	track := TrackFrom(TranscodedAudio{SHA256: testHash}, &TrackOverrides{Type: MediaStream, Icon: "yoto:#icon"})
	if track.Type != MediaStream {
		t.Fatalf("expected stream type, got %q", track.Type)
	}
	if track.Display == nil || track.Display.Icon16x16 != "yoto:#icon" {
		t.Fatalf("expected icon display, got %+v", track.Display)
	}
}

func TestChapterOverridesDoNotLeakIntoTrack(t *testing.T) {
	transcoded := TranscodedAudio{SHA256: testHash, Info: &TranscodeInfo{Title: "Server Title"}}
	chapter := ChapterFrom(transcoded, nil, &ChapterOverrides{Title: "Chapter One", Key: "05", OverlayLabel: "5"})

	if chapter.Title != "Chapter One" || chapter.Key != "05" || chapter.OverlayLabel != "5" {
		t.Fatalf("chapter overrides not applied: %+v", chapter)
	}
	if len(chapter.Tracks) != 1 {
		t.Fatalf("expected one track, got %d", len(chapter.Tracks))
	}
	track := chapter.Tracks[0]
	if track.Title != "Server Title" || track.Key != "01" || track.OverlayLabel != "1" {
		t.Fatalf("chapter overrides leaked into track: %+v", track)
	}
}

func TestChapterTitleFallbacks(t *testing.T) {
	if got := ChapterFrom(TranscodedAudio{SHA256: testHash}, nil, nil).Title; got != "Unknown Chapter" {
		t.Fatalf("expected default chapter title, got %q", got)
	}
	withInfo := TranscodedAudio{SHA256: testHash, Info: &TranscodeInfo{Title: "Song"}}
	if got := ChapterFrom(withInfo, nil, nil).Title; got != "Song" {
		t.Fatalf("expected metadata chapter title, got %q", got)
	}
}

func TestCardFromSingleChapterSingleTrack(t *testing.T) {
	card := CardFrom("Bedtime", TranscodedAudio{SHA256: testHash}, &TrackOverrides{Title: "Track"}, &ChapterOverrides{Title: "Chapter"})

	if card.Title != "Bedtime" {
		t.Fatalf("card title must come from argument, got %q", card.Title)
	}
	if card.ID != "" {
		t.Fatalf("new card must not carry an id, got %q", card.ID)
	}
	if card.TotalTracks() != 1 || card.ChapterCount() != 1 {
		t.Fatalf("expected 1 track in 1 chapter, got %d/%d", card.TotalTracks(), card.ChapterCount())
	}
}

func TestCardAggregates(t *testing.T) {
	card := Card{
		Title: "Mix",
		Chapters: []Chapter{
			{Tracks: []Track{{Duration: 120.5}, {Duration: 90.0}}},
			{Tracks: []Track{{Duration: 60.0}}},
		},
	}
	if card.TotalTracks() != 3 {
		t.Fatalf("TotalTracks = %d, want 3", card.TotalTracks())
	}
	if card.ChapterCount() != 2 {
		t.Fatalf("ChapterCount = %d, want 2", card.ChapterCount())
	}
	if card.TotalDuration() != 270.5 {
		t.Fatalf("TotalDuration = %v, want 270.5", card.TotalDuration())
	}

	card.Chapters[1].Tracks = append(card.Chapters[1].Tracks, Track{})
	if card.TotalTracks() != 4 || card.TotalDuration() != 270.5 {
		t.Fatalf("aggregates must follow chapters: %d tracks, %v seconds", card.TotalTracks(), card.TotalDuration())
	}
}

func TestAppendChapterNumbersAndDoesNotMutate(t *testing.T) {
	base := CardFrom("Stories", TranscodedAudio{SHA256: testHash}, nil, nil)
	base.ID = "card-1"

	next := AppendChapter(base, TranscodedAudio{SHA256: "abc"}, nil, &ChapterOverrides{Title: "Second"})

	if base.ChapterCount() != 1 {
		t.Fatalf("input card mutated: %d chapters", base.ChapterCount())
	}
	if next.ID != "card-1" || next.ChapterCount() != 2 {
		t.Fatalf("unexpected result: %+v", next)
	}
	added := next.Chapters[1]
	if added.Key != "02" || added.OverlayLabel != "2" || added.Title != "Second" {
		t.Fatalf("unexpected appended chapter: %+v", added)
	}
	if added.Tracks[0].URL != "source:#abc" {
		t.Fatalf("unexpected track url %q", added.Tracks[0].URL)
	}

	next.Chapters[0].Title = "changed"
	if base.Chapters[0].Title == "changed" {
		t.Fatal("clone shares chapter storage with input")
	}
}

func TestCardFromManyKeepsOrder(t *testing.T) {
	results := []TranscodedAudio{
		{SHA256: "a", Info: &TranscodeInfo{Duration: 10}},
		{SHA256: "b", Info: &TranscodeInfo{Duration: 20}},
		{SHA256: "c"},
	}
	card := CardFromMany("Album", results, []string{"One", "", "Three"})

	gotKeys := []string{}
	gotURLs := []string{}
	for _, ch := range card.Chapters {
		gotKeys = append(gotKeys, ch.Key)
		gotURLs = append(gotURLs, ch.Tracks[0].URL)
	}
	if diff := cmp.Diff([]string{"01", "02", "03"}, gotKeys); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"source:#a", "source:#b", "source:#c"}, gotURLs); diff != "" {
		t.Fatalf("urls (-want +got):\n%s", diff)
	}
	if card.Chapters[1].Title != "Unknown Chapter" || card.Chapters[2].Title != "Three" {
		t.Fatalf("unexpected titles: %q %q", card.Chapters[1].Title, card.Chapters[2].Title)
	}
	if card.TotalDuration() != 30 {
		t.Fatalf("TotalDuration = %v, want 30", card.TotalDuration())
	}
}

func TestAssemblerIsDeterministic(t *testing.T) {
	transcoded := TranscodedAudio{SHA256: testHash, Info: &TranscodeInfo{Title: "T", Duration: 1.5}}
	a := CardFrom("x", transcoded, &TrackOverrides{Key: "02"}, nil)
	b := CardFrom("x", transcoded, &TrackOverrides{Key: "02"}, nil)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("non-deterministic assembly:\n%s", diff)
	}
}

func TestTranscodedAudioValidate(t *testing.T) {
	if err := (TranscodedAudio{}).Validate(); err != ErrMissingHash {
		t.Fatalf("expected ErrMissingHash, got %v", err)
	}
	if err := (TranscodedAudio{SHA256: testHash}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
