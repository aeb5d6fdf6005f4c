package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cardsync/internal/cards"
	"cardsync/internal/logging"
	"cardsync/internal/services"
)

const updatedAtLayout = "2006-01-02T15:04:05.000Z"

type wireCard struct {
	CardID    string        `json:"cardId,omitempty"`
	Title     string        `json:"title"`
	Content   wireContent   `json:"content"`
	Metadata  *wireMetadata `json:"metadata,omitempty"`
	Status    string        `json:"status,omitempty"`
	UpdatedAt string        `json:"updatedAt,omitempty"`
}

type wireContent struct {
	Chapters []cards.Chapter `json:"chapters"`
}

type wireMetadata struct {
	Cover *cards.Cover `json:"cover,omitempty"`
}

func toWire(card cards.Card) wireCard {
	w := wireCard{
		CardID:  card.ID,
		Title:   card.Title,
		Content: wireContent{Chapters: card.Chapters},
		Status:  string(card.Status),
	}
	if w.Content.Chapters == nil {
		w.Content.Chapters = []cards.Chapter{}
	}
	if card.Cover != nil {
		w.Metadata = &wireMetadata{Cover: card.Cover}
	}
	return w
}

func (w wireCard) card() cards.Card {
	card := cards.Card{
		ID:       w.CardID,
		Title:    w.Title,
		Chapters: w.Content.Chapters,
		Status:   cards.Status(w.Status),
	}
	if w.Metadata != nil && w.Metadata.Cover != nil && w.Metadata.Cover.ImageURL != "" {
		card.Cover = w.Metadata.Cover
	}
	return card
}

func decodeCard(data []byte) (cards.Card, error) {
	var w wireCard
	if err := json.Unmarshal(unwrap(data, "card"), &w); err != nil {
		return cards.Card{}, fmt.Errorf("decode card: %w", err)
	}
	return w.card(), nil
}

// CreateOrUpdate posts card to the content API. Cards with an ID update the
// existing card; others are created. The server's copy is returned.
func (c *Client) CreateOrUpdate(ctx context.Context, card cards.Card) (cards.Card, error) {
	payload := toWire(card)
	payload.UpdatedAt = formatUpdatedAt(c.now())

	data, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "content"), payload)
	if err != nil {
		return cards.Card{}, err
	}
	saved, err := decodeCard(data)
	if err != nil {
		return cards.Card{}, err
	}
	if saved.ID == "" {
		saved.ID = card.ID
	}

	c.invalidate(ctx, c.libraryURL())
	if saved.ID != "" {
		c.invalidate(ctx, c.cardURL(saved.ID))
	}
	c.logger.Info("card saved",
		logging.String(logging.FieldEventType, "card_saved"),
		logging.String(logging.FieldCardID, saved.ID),
		logging.Int("chapters", saved.ChapterCount()),
		logging.Int("tracks", saved.TotalTracks()),
	)
	return saved, nil
}

// GetCard fetches one card by ID.
func (c *Client) GetCard(ctx context.Context, id string) (cards.Card, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return cards.Card{}, services.Wrap(services.ErrValidation, stageContent, "get card", "card id is empty", nil)
	}
	data, err := c.getCached(ctx, c.cardURL(id))
	if err != nil {
		return cards.Card{}, err
	}
	return decodeCard(data)
}

// Library lists the cards owned by the authenticated user. Entries that fail
// to decode are skipped with a warning.
func (c *Client) Library(ctx context.Context) ([]cards.Card, error) {
	data, err := c.getCached(ctx, c.libraryURL())
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(unwrap(data, "cards"), &raw); err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}

	out := make([]cards.Card, 0, len(raw))
	for idx, entry := range raw {
		var w wireCard
		if err := json.Unmarshal(entry, &w); err != nil {
			c.logger.Warn("skipping undecodable library entry",
				logging.String(logging.FieldEventType, "library_entry_invalid"),
				logging.Int("index", idx),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the card may use a newer schema"),
				logging.String(logging.FieldImpact, "card omitted from listing"),
			)
			continue
		}
		out = append(out, w.card())
	}
	return out, nil
}

// DeleteCard removes a card and drops cached reads that include it.
func (c *Client) DeleteCard(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return services.Wrap(services.ErrValidation, stageContent, "delete card", "card id is empty", nil)
	}
	if _, err := c.do(ctx, http.MethodDelete, c.cardURL(id), nil); err != nil {
		return err
	}
	c.invalidate(ctx, c.libraryURL(), c.cardURL(id))
	c.logger.Info("card deleted",
		logging.String(logging.FieldEventType, "card_deleted"),
		logging.String(logging.FieldCardID, id),
	)
	return nil
}

func (c *Client) libraryURL() string {
	return c.endpoint(nil, "content", "mine")
}

func (c *Client) cardURL(id string) string {
	return c.endpoint(nil, "content", id)
}

func formatUpdatedAt(t time.Time) string {
	return t.UTC().Format(updatedAtLayout)
}
