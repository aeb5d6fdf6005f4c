package content

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cardsync/internal/config"
	"cardsync/internal/requestcache"
	"cardsync/internal/services"
	"cardsync/internal/testsupport"
)

type stubTokens struct {
	mu        sync.Mutex
	token     string
	refreshed string
	refreshes int
	err       error
}

func (s *stubTokens) AccessToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func (s *stubTokens) ForceRefresh(_ context.Context, stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.token == stale && s.refreshed != "" {
		s.token = s.refreshed
	}
	return s.token, nil
}

func newTestClient(t *testing.T, server *httptest.Server, tokens TokenSource, opts ...Option) (*Client, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithContentServer(server.URL))
	base := []Option{WithHTTPClient(server.Client()), WithUploadClient(server.Client())}
	client, err := New(cfg, tokens, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, cfg
}

func TestClientRetriesOnceAfterUnauthorized(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"card":{"cardId":"c1","title":"T","content":{"chapters":[]}}}`))
	}))
	defer server.Close()

	tokens := &stubTokens{token: "stale", refreshed: "fresh"}
	client, _ := newTestClient(t, server, tokens)

	card, err := client.GetCard(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if card.ID != "c1" {
		t.Fatalf("unexpected card %+v", card)
	}
	if tokens.refreshes != 1 {
		t.Fatalf("expected one forced refresh, got %d", tokens.refreshes)
	}
	if len(seen) != 2 || seen[0] != "Bearer stale" || seen[1] != "Bearer fresh" {
		t.Fatalf("unexpected authorization sequence %v", seen)
	}
}

func TestClientSecondUnauthorizedRequiresLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &stubTokens{token: "a", refreshed: "b"}
	client, _ := newTestClient(t, server, tokens)

	_, err := client.GetCard(context.Background(), "c1")
	if !errors.Is(err, services.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if tokens.refreshes != 1 {
		t.Fatalf("expected exactly one refresh, got %d", tokens.refreshes)
	}
}

func TestClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, &stubTokens{token: "t"})
	_, err := client.GetCard(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected StatusError 404 in chain, got %v", err)
	}
}

func TestClientTokenErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without a token")
	}))
	defer server.Close()

	authErr := services.Wrap(services.ErrAuthRequired, "identity", "refresh", "no refresh token", nil)
	client, _ := newTestClient(t, server, &stubTokens{err: authErr})
	if _, err := client.Library(context.Background()); !errors.Is(err, services.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Content.BaseURL = "not a url"
	if _, err := New(cfg, &stubTokens{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func newMemoryCache() *requestcache.Cache {
	return requestcache.New(requestcache.NewMemoryBackend(), requestcache.BackendMemory, time.Minute, nil)
}
