package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"cardsync/internal/cards"
	"cardsync/internal/config"
	"cardsync/internal/logging"
	"cardsync/internal/requestcache"
	"cardsync/internal/services"
	"cardsync/internal/services/content"
	"cardsync/internal/services/identity"
	"cardsync/internal/versions"
)

const stageSync = "sync"

var _ CoverUploader = (*content.Client)(nil)

// Transcoder turns local audio files into server-side transcoded results.
type Transcoder interface {
	UploadAndTranscode(ctx context.Context, path string, progress chan<- services.Progress) (cards.TranscodedAudio, error)
	UploadMany(ctx context.Context, paths []string, progress chan<- services.Progress) []content.UploadResult
}

// ContentAPI is the cloud card store.
type ContentAPI interface {
	CreateOrUpdate(ctx context.Context, card cards.Card) (cards.Card, error)
	GetCard(ctx context.Context, id string) (cards.Card, error)
	Library(ctx context.Context) ([]cards.Card, error)
	DeleteCard(ctx context.Context, id string) error
}

// CoverUploader hosts card artwork. The content client implements it.
type CoverUploader interface {
	UploadCover(ctx context.Context, path string) (cards.Cover, error)
}

// UploadOption customises an upload operation.
type UploadOption func(*uploadSettings)

type uploadSettings struct {
	coverPath string
}

// WithCoverImage uploads the image at path after the audio transcodes and
// sets it as the card cover.
func WithCoverImage(path string) UploadOption {
	return func(s *uploadSettings) {
		s.coverPath = path
	}
}

// Snapshots records card history.
type Snapshots interface {
	Save(card cards.Card) (versions.Ref, error)
	Load(ref versions.Ref) (versions.Snapshot, error)
}

// Engine coordinates authentication, upload, assembly, cloud writes, and
// local history. One Engine is built per process and passed to every
// operation.
type Engine struct {
	api        ContentAPI
	transcoder Transcoder
	snapshots  Snapshots
	logger     *slog.Logger

	session *identity.Session
	store   *versions.Store
	cache   *requestcache.Cache
}

// New assembles an Engine from its collaborators.
func New(api ContentAPI, transcoder Transcoder, snapshots Snapshots, logger *slog.Logger) *Engine {
	return &Engine{
		api:        api,
		transcoder: transcoder,
		snapshots:  snapshots,
		logger:     logging.NewComponentLogger(logger, stageSync),
	}
}

// Open builds the production Engine from configuration. Required directories
// are created up front and any failure is returned immediately.
func Open(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	cache, err := requestcache.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open request cache: %w", err)
	}
	session, err := identity.NewSession(cfg, identity.WithLogger(logger))
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("open session: %w", err)
	}
	client, err := content.New(cfg, session, content.WithCache(cache), content.WithLogger(logger))
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	store, err := versions.NewStore(cfg.Paths.VersionsDir, logger)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	engine := New(client, content.NewTranscoder(client, cfg), store, logger)
	engine.session = session
	engine.store = store
	engine.cache = cache
	return engine, nil
}

// Close releases the request cache.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	return e.cache.Close()
}

// Session returns the authentication session built by Open.
func (e *Engine) Session() *identity.Session {
	return e.session
}

// Versions returns the snapshot store built by Open.
func (e *Engine) Versions() *versions.Store {
	return e.store
}

// Cache returns the request cache built by Open; nil when caching is off.
func (e *Engine) Cache() *requestcache.Cache {
	return e.cache
}

// UploadAudioToCard uploads one file and creates a new single-chapter card
// from it. Nothing is sent to the content API unless the transcode succeeds.
func (e *Engine) UploadAudioToCard(ctx context.Context, path, title string, trackOv *cards.TrackOverrides, chapterOv *cards.ChapterOverrides, progress chan<- services.Progress, opts ...UploadOption) (cards.Card, error) {
	ctx, logger := e.begin(ctx, "upload_to_card")
	logger.Info("uploading audio to new card",
		logging.String(logging.FieldPath, path),
		logging.String("title", title),
	)

	audio, err := e.transcoder.UploadAndTranscode(ctx, path, progress)
	if err != nil {
		return cards.Card{}, err
	}
	card, err := e.applyUploadOptions(ctx, cards.CardFrom(title, audio, trackOv, chapterOv), opts)
	if err != nil {
		return cards.Card{}, err
	}
	return e.CreateOrUpdate(ctx, card)
}

// UploadAudioToExistingCard uploads one file and appends it to cardID as a
// new chapter.
func (e *Engine) UploadAudioToExistingCard(ctx context.Context, path, cardID string, trackOv *cards.TrackOverrides, chapterOv *cards.ChapterOverrides, progress chan<- services.Progress, opts ...UploadOption) (cards.Card, error) {
	ctx = services.WithCardID(ctx, cardID)
	ctx, logger := e.begin(ctx, "upload_to_existing_card")

	existing, err := e.api.GetCard(ctx, cardID)
	if err != nil {
		return cards.Card{}, err
	}
	logger.Info("appending audio to card",
		logging.String(logging.FieldPath, path),
		logging.Int("chapters", existing.ChapterCount()),
	)

	audio, err := e.transcoder.UploadAndTranscode(ctx, path, progress)
	if err != nil {
		return cards.Card{}, err
	}
	card, err := e.applyUploadOptions(ctx, cards.AppendChapter(existing, audio, trackOv, chapterOv), opts)
	if err != nil {
		return cards.Card{}, err
	}
	return e.CreateOrUpdate(ctx, card)
}

// UploadManyToCard transcodes paths concurrently and creates one card with a
// chapter per file in input order. If any file fails, no card is written and
// the per-file errors are returned together.
func (e *Engine) UploadManyToCard(ctx context.Context, paths []string, title string, progress chan<- services.Progress, opts ...UploadOption) (cards.Card, error) {
	ctx, logger := e.begin(ctx, "upload_many_to_card")
	if len(paths) == 0 {
		return cards.Card{}, services.Wrap(services.ErrValidation, stageSync, "upload many", "no files given", nil)
	}
	logger.Info("uploading audio batch", logging.Int("files", len(paths)), logging.String("title", title))

	results := e.transcoder.UploadMany(ctx, paths, progress)
	audios := make([]cards.TranscodedAudio, 0, len(results))
	var errs []error
	for _, result := range results {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(result.Path), result.Err))
			continue
		}
		audios = append(audios, result.Audio)
	}
	if len(errs) > 0 {
		logging.ErrorWithContext(logger, "batch upload failed", "batch_upload_failed",
			logging.Int("failed", len(errs)),
			logging.Int("files", len(paths)),
			logging.String(logging.FieldErrorHint, services.Hint(errs[0])),
		)
		return cards.Card{}, errors.Join(errs...)
	}
	card, err := e.applyUploadOptions(ctx, cards.CardFromMany(title, audios, nil), opts)
	if err != nil {
		return cards.Card{}, err
	}
	return e.CreateOrUpdate(ctx, card)
}

// SetCover uploads the image at path and saves it as the cover of cardID.
func (e *Engine) SetCover(ctx context.Context, cardID, path string) (cards.Card, error) {
	ctx = services.WithCardID(ctx, cardID)
	ctx, logger := e.begin(ctx, "set_cover")

	existing, err := e.api.GetCard(ctx, cardID)
	if err != nil {
		return cards.Card{}, err
	}
	logger.Info("setting card cover", logging.String(logging.FieldPath, path))
	card, err := e.applyUploadOptions(ctx, existing, []UploadOption{WithCoverImage(path)})
	if err != nil {
		return cards.Card{}, err
	}
	return e.CreateOrUpdate(ctx, card)
}

func (e *Engine) applyUploadOptions(ctx context.Context, card cards.Card, opts []UploadOption) (cards.Card, error) {
	var settings uploadSettings
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.coverPath == "" {
		return card, nil
	}
	uploader, ok := e.api.(CoverUploader)
	if !ok {
		return cards.Card{}, services.Wrap(services.ErrConfiguration, stageSync, "upload cover", "content API cannot host cover images", nil)
	}
	cover, err := uploader.UploadCover(ctx, settings.coverPath)
	if err != nil {
		return cards.Card{}, err
	}
	card = card.Clone()
	card.Cover = &cover
	return card, nil
}

// CreateOrUpdate pushes card to the content API without retrying and then
// records a snapshot of the server's copy. A failed snapshot is logged, not
// returned, since the cloud write has already happened.
func (e *Engine) CreateOrUpdate(ctx context.Context, card cards.Card) (cards.Card, error) {
	ctx, logger := e.begin(ctx, "create_or_update")
	saved, err := e.api.CreateOrUpdate(ctx, card)
	if err != nil {
		return cards.Card{}, err
	}
	e.snapshot(logger, saved)
	return saved, nil
}

// RestoreVersion pushes a stored snapshot back to the content API. It does
// not write a new snapshot.
func (e *Engine) RestoreVersion(ctx context.Context, ref versions.Ref) (cards.Card, error) {
	ctx, logger := e.begin(ctx, "restore_version")
	snap, err := e.snapshots.Load(ref)
	if err != nil {
		return cards.Card{}, err
	}
	logger.Info("restoring card version",
		logging.String(logging.FieldCardID, snap.CardID),
		logging.String("version", ref.Name),
	)
	return e.api.CreateOrUpdate(ctx, snap.Card)
}

// Card fetches one card.
func (e *Engine) Card(ctx context.Context, id string) (cards.Card, error) {
	ctx, _ = e.begin(services.WithCardID(ctx, id), "get_card")
	return e.api.GetCard(ctx, id)
}

// Library lists the user's cards.
func (e *Engine) Library(ctx context.Context) ([]cards.Card, error) {
	ctx, _ = e.begin(ctx, "library")
	return e.api.Library(ctx)
}

// DeleteCard removes a card from the cloud. Local snapshots are kept.
func (e *Engine) DeleteCard(ctx context.Context, id string) error {
	ctx, _ = e.begin(services.WithCardID(ctx, id), "delete_card")
	return e.api.DeleteCard(ctx, id)
}

func (e *Engine) snapshot(logger *slog.Logger, card cards.Card) {
	if e.snapshots == nil {
		return
	}
	ref, err := e.snapshots.Save(card)
	if err != nil {
		logging.WarnWithContext(logger, "card snapshot failed", "snapshot_failed",
			logging.String(logging.FieldCardID, card.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.versions_dir permissions"),
			logging.String(logging.FieldImpact, "this save cannot be restored locally"),
		)
		return
	}
	logger.Debug("card snapshot recorded", logging.String("version", ref.Name))
}

// begin tags ctx with a correlation ID (unless one is set) and the operation
// stage, and returns a logger carrying both.
func (e *Engine) begin(ctx context.Context, stage string) (context.Context, *slog.Logger) {
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	ctx = services.WithStage(ctx, stage)
	return ctx, logging.WithContext(ctx, e.logger)
}
