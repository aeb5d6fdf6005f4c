package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"cardsync/internal/cards"
	"cardsync/internal/config"
	"cardsync/internal/fileutil"
	"cardsync/internal/logging"
	"cardsync/internal/services"
)

const (
	stageHash      = "hash"
	stageUpload    = "upload"
	stageTranscode = "transcode"

	defaultMimeType = "audio/mpeg"
)

// TranscoderOption customises a Transcoder.
type TranscoderOption func(*Transcoder)

// WithTranscodeClock overrides the clock used for the polling deadline.
func WithTranscodeClock(now func() time.Time) TranscoderOption {
	return func(t *Transcoder) {
		t.now = now
	}
}

// WithTranscodeSleep overrides how the poll loop waits.
func WithTranscodeSleep(sleep func(context.Context, time.Duration) error) TranscoderOption {
	return func(t *Transcoder) {
		t.sleep = sleep
	}
}

// WithTranscodeBudget overrides the poll cadence and wall-clock budget.
func WithTranscodeBudget(interval, maxInterval, timeout time.Duration) TranscoderOption {
	return func(t *Transcoder) {
		t.pollInterval = interval
		t.maxPollInterval = maxInterval
		t.timeout = timeout
	}
}

// Transcoder uploads local audio files and waits for the server to finish
// transcoding them.
type Transcoder struct {
	client          *Client
	logger          *slog.Logger
	pollInterval    time.Duration
	maxPollInterval time.Duration
	timeout         time.Duration
	loudnorm        bool
	maxConcurrent   int
	now             func() time.Time
	sleep           func(context.Context, time.Duration) error
}

// NewTranscoder builds a Transcoder on top of client.
func NewTranscoder(client *Client, cfg *config.Config, opts ...TranscoderOption) *Transcoder {
	interval, maxInterval, timeout := cfg.TranscodeBudget()
	t := &Transcoder{
		client:          client,
		logger:          logging.NewComponentLogger(client.logger, stageTranscode),
		pollInterval:    interval,
		maxPollInterval: maxInterval,
		timeout:         timeout,
		loudnorm:        cfg.Content.Loudnorm,
		maxConcurrent:   cfg.Content.MaxConcurrentUploads,
		now:             time.Now,
		sleep:           services.SleepWithContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.pollInterval <= 0 {
		t.pollInterval = time.Second
	}
	if t.maxPollInterval < t.pollInterval {
		t.maxPollInterval = t.pollInterval
	}
	if t.maxConcurrent <= 0 {
		t.maxConcurrent = 1
	}
	return t
}

type uploadTicket struct {
	UploadID  string  `json:"uploadId"`
	UploadURL *string `json:"uploadUrl"`
}

type wireTranscodeInfo struct {
	Metadata *struct {
		Title string `json:"title"`
	} `json:"metadata"`
	Duration float64         `json:"duration"`
	FileSize float64         `json:"fileSize"`
	Channels json.RawMessage `json:"channels"`
	Format   string          `json:"format"`
}

type transcodeStatus struct {
	TranscodedSha256 string             `json:"transcodedSha256"`
	TranscodedInfo   *wireTranscodeInfo `json:"transcodedInfo"`
	Status           string             `json:"status"`
	Error            json.RawMessage    `json:"error"`
	Message          string             `json:"message"`
}

func (s transcodeStatus) failed() bool {
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case "failed", "error":
		return true
	}
	return false
}

func (s transcodeStatus) reason() string {
	if len(s.Error) > 0 && string(s.Error) != "null" {
		var text string
		if err := json.Unmarshal(s.Error, &text); err == nil && text != "" {
			return text
		}
		return string(s.Error)
	}
	if s.Message != "" {
		return s.Message
	}
	return "unknown error"
}

func (s transcodeStatus) audio() cards.TranscodedAudio {
	out := cards.TranscodedAudio{SHA256: s.TranscodedSha256}
	if s.TranscodedInfo == nil {
		return out
	}
	info := &cards.TranscodeInfo{
		Duration: s.TranscodedInfo.Duration,
		FileSize: int64(s.TranscodedInfo.FileSize),
		Channels: normalizeChannels(s.TranscodedInfo.Channels),
		Format:   s.TranscodedInfo.Format,
	}
	if s.TranscodedInfo.Metadata != nil {
		info.Title = s.TranscodedInfo.Metadata.Title
	}
	out.Info = info
	return out
}

// normalizeChannels accepts "stereo"/"mono" or a channel count.
func normalizeChannels(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return ""
	}
	switch n {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return strconv.Itoa(n)
	}
}

// UploadAndTranscode uploads the file at path and blocks until the server
// reports a transcoded result, a terminal failure, or the wall-clock budget
// runs out. It never returns a partially populated result.
func (t *Transcoder) UploadAndTranscode(ctx context.Context, path string, progress chan<- services.Progress) (cards.TranscodedAudio, error) {
	name := filepath.Base(path)
	logger := logging.WithContext(ctx, t.logger).With(logging.String(logging.FieldPath, path))
	sampler := logging.NewProgressSampler(25)
	report := func(stage, message string, percent float64) {
		services.Report(progress, services.Progress{Stage: stage, Message: message, Percent: percent, Item: path})
		if sampler.ShouldLog(percent, stage) {
			logger.Info(message,
				logging.String(logging.FieldEventType, "transcode_progress"),
				logging.String(logging.FieldStage, stage),
				logging.Float64("percent", percent),
			)
		}
	}

	report(stageHash, "hashing "+name, 0)
	sum, size, err := fileutil.SHA256File(path)
	if err != nil {
		return cards.TranscodedAudio{}, services.Wrap(services.ErrUpload, stageHash, name, "read audio file", err)
	}

	ticket, err := t.requestUpload(ctx, sum, name)
	if err != nil {
		return cards.TranscodedAudio{}, uploadFailure(err, "request upload url", name)
	}

	if ticket.UploadURL == nil || *ticket.UploadURL == "" {
		logger.Info("content already on server; skipping upload",
			logging.String(logging.FieldEventType, "upload_skipped"),
			logging.String("upload_id", ticket.UploadID),
		)
		report(stageUpload, "upload skipped (already on server)", 50)
	} else {
		report(stageUpload, "uploading "+name, 10)
		if err := t.put(ctx, *ticket.UploadURL, path, size); err != nil {
			return cards.TranscodedAudio{}, uploadFailure(err, "upload audio", name)
		}
		report(stageUpload, "upload complete", 50)
	}

	audio, err := t.awaitTranscode(ctx, ticket.UploadID, name, func(elapsed float64) {
		report(stageTranscode, "transcoding "+name, 50+50*elapsed)
	})
	if err != nil {
		logging.ErrorWithContext(logger, "transcode failed", "transcode_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
		)
		return cards.TranscodedAudio{}, err
	}
	report(stageTranscode, "transcode complete", 100)
	logger.Info("transcode complete",
		logging.String(logging.FieldEventType, "transcode_complete"),
		logging.String("sha256", audio.SHA256),
	)
	return audio, nil
}

func (t *Transcoder) requestUpload(ctx context.Context, sum, name string) (uploadTicket, error) {
	query := url.Values{}
	query.Set("sha256", sum)
	if name != "" {
		query.Set("filename", name)
	}
	data, err := t.client.do(ctx, http.MethodGet, t.client.endpoint(query, "media", "transcode", "audio", "uploadUrl"), nil)
	if err != nil {
		return uploadTicket{}, err
	}
	var ticket uploadTicket
	if err := json.Unmarshal(unwrap(data, "upload"), &ticket); err != nil {
		return uploadTicket{}, fmt.Errorf("decode upload url response: %w", err)
	}
	if strings.TrimSpace(ticket.UploadID) == "" {
		return uploadTicket{}, errors.New("upload url response missing uploadId")
	}
	return ticket, nil
}

// put streams the file to the pre-signed URL. The URL carries its own
// credentials, so no bearer token is sent.
func (t *Transcoder) put(ctx context.Context, uploadURL, path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", guessMimeType(path))

	resp, err := t.client.upload.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return &StatusError{Method: http.MethodPut, URL: redactQuery(uploadURL), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBytes))
	return nil
}

func (t *Transcoder) awaitTranscode(ctx context.Context, uploadID, name string, onTick func(elapsed float64)) (cards.TranscodedAudio, error) {
	query := url.Values{}
	query.Set("loudnorm", strconv.FormatBool(t.loudnorm))
	endpoint := t.client.endpoint(query, "media", "upload", uploadID, "transcoded")

	start := t.now()
	deadline := start.Add(t.timeout)
	interval := t.pollInterval

	for {
		status, err := t.pollStatus(ctx, endpoint)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return cards.TranscodedAudio{}, ctxErr
			}
			if errors.Is(err, services.ErrAuthRequired) {
				return cards.TranscodedAudio{}, err
			}
			if !pollRetryable(err) {
				return cards.TranscodedAudio{}, services.Wrap(services.ErrUpload, stageTranscode, name, "poll transcode status", err)
			}
			t.logger.Debug("transcode poll failed; retrying", logging.String("upload_id", uploadID), logging.Error(err))
		case status.failed():
			return cards.TranscodedAudio{}, services.Wrap(services.ErrTranscodeFailed, stageTranscode, name, status.reason(), nil)
		case status.TranscodedSha256 != "":
			audio := status.audio()
			if err := audio.Validate(); err != nil {
				return cards.TranscodedAudio{}, services.Wrap(services.ErrTranscodeFailed, stageTranscode, name, "incomplete result", err)
			}
			return audio, nil
		}

		now := t.now()
		if !now.Before(deadline) {
			return cards.TranscodedAudio{}, services.Wrap(services.ErrTranscodeTimeout, stageTranscode, name,
				fmt.Sprintf("not complete after %s", t.timeout), nil)
		}
		if t.timeout > 0 {
			onTick(float64(now.Sub(start)) / float64(t.timeout))
		}
		wait := min(interval, deadline.Sub(now))
		if err := t.sleep(ctx, wait); err != nil {
			return cards.TranscodedAudio{}, err
		}
		interval = min(interval*2, t.maxPollInterval)
	}
}

func (t *Transcoder) pollStatus(ctx context.Context, endpoint string) (transcodeStatus, error) {
	data, err := t.client.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return transcodeStatus{}, err
	}
	var status transcodeStatus
	if err := json.Unmarshal(unwrap(data, "transcode"), &status); err != nil {
		return transcodeStatus{}, fmt.Errorf("decode transcode status: %w", err)
	}
	return status, nil
}

// UploadResult is the outcome of one file in UploadMany.
type UploadResult struct {
	Path  string
	Audio cards.TranscodedAudio
	Err   error
}

// UploadMany transcodes paths concurrently, bounded by the configured upload
// limit. Results keep input order; a failed file does not stop its siblings.
func (t *Transcoder) UploadMany(ctx context.Context, paths []string, progress chan<- services.Progress) []UploadResult {
	results := make([]UploadResult, len(paths))
	var g errgroup.Group
	g.SetLimit(t.maxConcurrent)
	for i, path := range paths {
		results[i].Path = path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Audio, results[i].Err = t.UploadAndTranscode(ctx, path, progress)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func uploadFailure(err error, operation, name string) error {
	if errors.Is(err, services.ErrAuthRequired) || errors.Is(err, context.Canceled) {
		return err
	}
	return services.Wrap(services.ErrUpload, stageUpload, name, operation, err)
}

func pollRetryable(err error) bool {
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrTransient) {
		return true
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

var audioMimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
}

func guessMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if known, ok := audioMimeTypes[ext]; ok {
		return known
	}
	guessed := mime.TypeByExtension(ext)
	if media, _, err := mime.ParseMediaType(guessed); err == nil && strings.HasPrefix(media, "audio/") {
		return media
	}
	return defaultMimeType
}

func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
