package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"cardsync/internal/cards"
	"cardsync/internal/fileutil"
	"cardsync/internal/services"
	"cardsync/internal/testsupport"
)

// fakeAPI scripts the upload and transcode endpoints.
type fakeAPI struct {
	t         *testing.T
	server    *httptest.Server
	skipPut   bool
	polls     []string
	pollCount atomic.Int32
	puts      atomic.Int32
	putType   atomic.Value
	wantSum   string
}

func newFakeAPI(t *testing.T, polls ...string) *fakeAPI {
	t.Helper()
	api := &fakeAPI{t: t, polls: polls}
	api.server = httptest.NewServer(http.HandlerFunc(api.handle))
	t.Cleanup(api.server.Close)
	return api
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/media/transcode/audio/uploadUrl":
		if r.Header.Get("Authorization") == "" {
			f.t.Errorf("upload url request missing authorization")
		}
		sum := r.URL.Query().Get("sha256")
		if f.wantSum != "" && sum != f.wantSum {
			f.t.Errorf("unexpected sha256 %q", sum)
		}
		if f.skipPut {
			_, _ = fmt.Fprintf(w, `{"upload":{"uploadId":"up-%s","uploadUrl":null}}`, sum[:8])
			return
		}
		_, _ = fmt.Fprintf(w, `{"upload":{"uploadId":"up-%s","uploadUrl":"%s/put/%s?X-Signature=secret"}}`, sum[:8], f.server.URL, sum[:8])
	case r.Method == http.MethodPut:
		if r.Header.Get("Authorization") != "" {
			f.t.Errorf("pre-signed upload must not carry a bearer token")
		}
		f.putType.Store(r.Header.Get("Content-Type"))
		_, _ = io.Copy(io.Discard, r.Body)
		f.puts.Add(1)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && filepath.Base(r.URL.Path) == "transcoded":
		if r.URL.Query().Get("loudnorm") == "" {
			f.t.Errorf("missing loudnorm query")
		}
		idx := int(f.pollCount.Add(1)) - 1
		body := `{"transcode":{"status":"processing"}}`
		if idx < len(f.polls) {
			body = f.polls[idx]
		}
		if body == "500" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
		w.WriteHeader(http.StatusTeapot)
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (s *sleepRecorder) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return nil
}

func newTestTranscoder(t *testing.T, api *fakeAPI, opts ...TranscoderOption) (*Transcoder, *sleepRecorder) {
	t.Helper()
	client, cfg := newTestClient(t, api.server, &stubTokens{token: "t"})
	clock := &sleepRecorder{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	base := []TranscoderOption{
		WithTranscodeClock(clock.Now),
		WithTranscodeSleep(clock.Sleep),
		WithTranscodeBudget(time.Second, 4*time.Second, 30*time.Second),
	}
	return NewTranscoder(client, cfg, append(base, opts...)...), clock
}

func writeAudio(t *testing.T, name string, size int64) string {
	t.Helper()
	return testsupport.WriteAudio(t, t.TempDir(), name, size)
}

const doneBody = `{"transcode":{"transcodedSha256":"deadbeef","transcodedInfo":{"metadata":{"title":"Song"},"duration":12.5,"fileSize":2048,"channels":2,"format":"aac"}}}`

func TestUploadAndTranscodeHappyPath(t *testing.T) {
	api := newFakeAPI(t, `{"transcode":{"status":"processing"}}`, doneBody)
	path := writeAudio(t, "song.mp3", 4096)
	sum, _, err := fileutil.SHA256File(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	api.wantSum = sum
	transcoder, clock := newTestTranscoder(t, api)

	progress := make(chan services.Progress, 32)
	audio, err := transcoder.UploadAndTranscode(context.Background(), path, progress)
	if err != nil {
		t.Fatalf("UploadAndTranscode: %v", err)
	}

	want := cards.TranscodedAudio{
		SHA256: "deadbeef",
		Info:   &cards.TranscodeInfo{Title: "Song", Duration: 12.5, FileSize: 2048, Channels: "stereo", Format: "aac"},
	}
	if diff := cmp.Diff(want, audio); diff != "" {
		t.Fatalf("audio mismatch (-want +got):\n%s", diff)
	}
	if api.puts.Load() != 1 {
		t.Fatalf("expected one PUT, got %d", api.puts.Load())
	}
	if got := api.putType.Load(); got != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg content type, got %v", got)
	}
	if api.pollCount.Load() != 2 {
		t.Fatalf("expected 2 polls, got %d", api.pollCount.Load())
	}
	if len(clock.sleeps) != 1 {
		t.Fatalf("expected one sleep between polls, got %v", clock.sleeps)
	}

	close(progress)
	var last services.Progress
	for p := range progress {
		last = p
	}
	if last.Percent != 100 || last.Item != path {
		t.Fatalf("expected final progress at 100%% for %s, got %+v", path, last)
	}
}

func TestUploadSkippedWhenContentExists(t *testing.T) {
	api := newFakeAPI(t, doneBody)
	api.skipPut = true
	transcoder, _ := newTestTranscoder(t, api)

	if _, err := transcoder.UploadAndTranscode(context.Background(), writeAudio(t, "a.wav", 10), nil); err != nil {
		t.Fatalf("UploadAndTranscode: %v", err)
	}
	if api.puts.Load() != 0 {
		t.Fatalf("expected PUT skipped, got %d", api.puts.Load())
	}
}

func TestTranscodeFailureIsTerminal(t *testing.T) {
	api := newFakeAPI(t, `{"transcode":{"status":"failed","error":"unsupported codec"}}`)
	transcoder, _ := newTestTranscoder(t, api)

	_, err := transcoder.UploadAndTranscode(context.Background(), writeAudio(t, "a.mp3", 10), nil)
	if !errors.Is(err, services.ErrTranscodeFailed) {
		t.Fatalf("expected ErrTranscodeFailed, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("transcode failure should not be retryable")
	}
	if api.pollCount.Load() != 1 {
		t.Fatalf("expected polling to stop at failure, got %d polls", api.pollCount.Load())
	}
}

func TestTranscodeTimeoutUsesWallClock(t *testing.T) {
	api := newFakeAPI(t)
	transcoder, clock := newTestTranscoder(t, api, WithTranscodeBudget(time.Second, 4*time.Second, 20*time.Second))

	_, err := transcoder.UploadAndTranscode(context.Background(), writeAudio(t, "a.mp3", 10), nil)
	if !errors.Is(err, services.ErrTranscodeTimeout) {
		t.Fatalf("expected ErrTranscodeTimeout, got %v", err)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second, time.Second}
	if diff := cmp.Diff(want, clock.sleeps); diff != "" {
		t.Fatalf("unexpected backoff (-want +got):\n%s", diff)
	}
	if elapsed := clock.Now().Sub(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); elapsed != 20*time.Second {
		t.Fatalf("expected to stop at the 20s budget, elapsed %s", elapsed)
	}
}

func TestTranscodePollToleratesServerErrors(t *testing.T) {
	api := newFakeAPI(t, "500", "500", doneBody)
	transcoder, _ := newTestTranscoder(t, api)

	audio, err := transcoder.UploadAndTranscode(context.Background(), writeAudio(t, "a.mp3", 10), nil)
	if err != nil {
		t.Fatalf("UploadAndTranscode: %v", err)
	}
	if audio.SHA256 != "deadbeef" {
		t.Fatalf("unexpected hash %q", audio.SHA256)
	}
}

func TestUploadMissingFile(t *testing.T) {
	api := newFakeAPI(t)
	transcoder, _ := newTestTranscoder(t, api)

	_, err := transcoder.UploadAndTranscode(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), nil)
	if !errors.Is(err, services.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	if api.pollCount.Load() != 0 {
		t.Fatal("expected no polling without an upload")
	}
}

func TestUploadManyKeepsOrderAndIsolatesFailures(t *testing.T) {
	api := newFakeAPI(t, doneBody, doneBody, doneBody)
	transcoder, _ := newTestTranscoder(t, api)

	paths := []string{
		writeAudio(t, "one.mp3", 10),
		filepath.Join(t.TempDir(), "missing.mp3"),
		writeAudio(t, "three.mp3", 20),
	}
	results := transcoder.UploadMany(context.Background(), paths, nil)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, result := range results {
		if result.Path != paths[i] {
			t.Fatalf("result %d out of order: %s", i, result.Path)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("expected siblings to succeed: %v %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, services.ErrUpload) {
		t.Fatalf("expected ErrUpload for missing file, got %v", results[1].Err)
	}
}

func TestGuessMimeType(t *testing.T) {
	cases := map[string]string{
		"a.mp3":  "audio/mpeg",
		"a.M4A":  "audio/mp4",
		"a.flac": "audio/flac",
		"a.bin":  "audio/mpeg",
		"a":      "audio/mpeg",
	}
	for path, want := range cases {
		if got := guessMimeType(path); got != want {
			t.Fatalf("guessMimeType(%q) = %q, want %q", path, got, want)
		}
	}
}
