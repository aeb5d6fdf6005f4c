package cards

import (
	"errors"
	"strings"
)

// TrackURLPrefix prefixes a transcoded content hash to form a track URL.
const TrackURLPrefix = "source:#"

// MediaType distinguishes uploaded audio from externally hosted streams.
type MediaType string

const (
	MediaAudio  MediaType = "audio"
	MediaStream MediaType = "stream"
)

// Status is the publication state the content API reports for a card.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "inprogress"
	StatusComplete   Status = "complete"
	StatusLive       Status = "live"
	StatusArchived   Status = "archived"
)

// TranscodeInfo is the optional metadata the server reports alongside a
// completed transcode.
type TranscodeInfo struct {
	Title    string  `json:"title,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds
	FileSize int64   `json:"fileSize,omitempty"`
	Channels string  `json:"channels,omitempty"`
	Format   string  `json:"format,omitempty"`
}

// TranscodedAudio is the server's completed transcoding result, identified by
// the content hash of the transcoded file.
type TranscodedAudio struct {
	SHA256 string         `json:"transcodedSha256"`
	Info   *TranscodeInfo `json:"transcodedInfo,omitempty"`
}

// ErrMissingHash reports a transcode result without a content hash.
var ErrMissingHash = errors.New("transcoded audio has no content hash")

// Validate rejects results that cannot back a track.
func (t TranscodedAudio) Validate() error {
	if strings.TrimSpace(t.SHA256) == "" {
		return ErrMissingHash
	}
	return nil
}

// TrackURL returns the content-addressed reference for the transcoded audio.
func (t TranscodedAudio) TrackURL() string {
	return TrackURLPrefix + t.SHA256
}

// Display holds the small icon shown on the player for a track or chapter.
type Display struct {
	Icon16x16 string `json:"icon16x16,omitempty"`
}

// Track is one playable item inside a chapter.
type Track struct {
	Title        string    `json:"title"`
	URL          string    `json:"trackUrl"`
	Key          string    `json:"key"`
	Format       string    `json:"format"`
	Type         MediaType `json:"type"`
	Duration     float64   `json:"duration,omitempty"`
	FileSize     int64     `json:"fileSize,omitempty"`
	Channels     string    `json:"channels,omitempty"`
	OverlayLabel string    `json:"overlayLabel,omitempty"`
	Display      *Display  `json:"display,omitempty"`
}

// Chapter groups tracks in playback order.
type Chapter struct {
	Title        string   `json:"title"`
	Key          string   `json:"key"`
	OverlayLabel string   `json:"overlayLabel,omitempty"`
	Tracks       []Track  `json:"tracks"`
	Display      *Display `json:"display,omitempty"`
}

// Duration sums the durations of the chapter's tracks.
func (c Chapter) Duration() float64 {
	var total float64
	for _, t := range c.Tracks {
		total += t.Duration
	}
	return total
}

// Cover references the card artwork.
type Cover struct {
	ImageURL string `json:"imageL,omitempty"`
}

// Card is the unit of persistence and version snapshotting. ID is empty until
// the content API assigns one on first create.
type Card struct {
	ID       string    `json:"cardId,omitempty"`
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapters"`
	Cover    *Cover    `json:"cover,omitempty"`
	Status   Status    `json:"status,omitempty"`
}

// TotalTracks counts tracks across all chapters.
func (c Card) TotalTracks() int {
	total := 0
	for _, ch := range c.Chapters {
		total += len(ch.Tracks)
	}
	return total
}

// ChapterCount returns the number of chapters.
func (c Card) ChapterCount() int {
	return len(c.Chapters)
}

// TotalDuration sums every track duration in seconds. Tracks without a
// reported duration count as zero.
func (c Card) TotalDuration() float64 {
	var total float64
	for _, ch := range c.Chapters {
		total += ch.Duration()
	}
	return total
}

// Clone returns a deep copy so callers can derive a new card without
// mutating one that may be shared.
func (c Card) Clone() Card {
	out := c
	if c.Cover != nil {
		cover := *c.Cover
		out.Cover = &cover
	}
	if c.Chapters != nil {
		out.Chapters = make([]Chapter, len(c.Chapters))
		for i, ch := range c.Chapters {
			out.Chapters[i] = ch.clone()
		}
	}
	return out
}

func (c Chapter) clone() Chapter {
	out := c
	if c.Display != nil {
		d := *c.Display
		out.Display = &d
	}
	if c.Tracks != nil {
		out.Tracks = make([]Track, len(c.Tracks))
		for i, t := range c.Tracks {
			if t.Display != nil {
				d := *t.Display
				t.Display = &d
			}
			out.Tracks[i] = t
		}
	}
	return out
}
