package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cardsync/internal/services"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp), Subject: "user"}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestAccessTokenReturnsValidTokenWithoutRefresh(t *testing.T) {
	clock := newFakeClock()
	valid := signedToken(t, clock.Now().Add(time.Hour))
	provider := &scriptedProvider{}
	store := &spyStore{loaded: Token{AccessToken: valid, RefreshToken: "refresh"}}
	session := newTestSession(t, provider, store, clock)

	got, err := session.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != valid {
		t.Fatal("expected cached token")
	}
	if provider.refreshes != 0 {
		t.Fatalf("expected no refresh, got %d", provider.refreshes)
	}
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	clock := newFakeClock()
	expiring := signedToken(t, clock.Now().Add(10*time.Second))
	fresh := signedToken(t, clock.Now().Add(time.Hour))
	provider := &scriptedProvider{refresh: func() (Token, error) {
		return Token{AccessToken: fresh}, nil
	}}
	store := &spyStore{loaded: Token{AccessToken: expiring, RefreshToken: "refresh", IDToken: "id"}}
	session := newTestSession(t, provider, store, clock)

	got, err := session.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != fresh {
		t.Fatal("expected refreshed token")
	}
	if store.saves() != 1 {
		t.Fatalf("expected one save, got %d", store.saves())
	}
	saved := store.saved[0]
	if saved.RefreshToken != "refresh" || saved.IDToken != "id" {
		t.Fatalf("expected refresh and id tokens carried over, got %+v", saved)
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	clock := newFakeClock()
	expired := signedToken(t, clock.Now().Add(-time.Minute))
	fresh := signedToken(t, clock.Now().Add(time.Hour))

	release := make(chan struct{})
	provider := &scriptedProvider{refresh: func() (Token, error) {
		<-release
		return Token{AccessToken: fresh, RefreshToken: "refresh-2"}, nil
	}}
	session := newTestSession(t, provider, &spyStore{loaded: Token{AccessToken: expired, RefreshToken: "refresh"}}, clock)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = session.AccessToken(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != fresh {
			t.Fatalf("caller %d got stale token", i)
		}
	}
	if provider.refreshes != 1 {
		t.Fatalf("expected exactly one refresh, got %d", provider.refreshes)
	}
}

func TestForceRefreshSkipsWhenAlreadyReplaced(t *testing.T) {
	provider := &scriptedProvider{refresh: func() (Token, error) {
		return Token{AccessToken: "opaque-2"}, nil
	}}
	session := newTestSession(t, provider, &spyStore{loaded: Token{AccessToken: "opaque-1", RefreshToken: "refresh"}}, newFakeClock())

	first, err := session.ForceRefresh(context.Background(), "opaque-1")
	if err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	second, err := session.ForceRefresh(context.Background(), "opaque-1")
	if err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if first != "opaque-2" || second != "opaque-2" {
		t.Fatalf("unexpected tokens %q %q", first, second)
	}
	if provider.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", provider.refreshes)
	}
}

func TestRefreshWithoutRefreshTokenRequiresLogin(t *testing.T) {
	session := newTestSession(t, &scriptedProvider{}, &spyStore{}, newFakeClock())
	if _, err := session.AccessToken(context.Background()); !errors.Is(err, services.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestRefreshRejectedGrantRequiresLogin(t *testing.T) {
	provider := &scriptedProvider{refresh: func() (Token, error) {
		return Token{}, &ProviderError{StatusCode: 403, Code: CodeInvalidGrant}
	}}
	session := newTestSession(t, provider, &spyStore{loaded: Token{AccessToken: "opaque", RefreshToken: "refresh"}}, newFakeClock())
	if _, err := session.ForceRefresh(context.Background(), "opaque"); !errors.Is(err, services.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestLogoutClearsToken(t *testing.T) {
	store := &spyStore{loaded: Token{AccessToken: "a", RefreshToken: "r"}}
	session := newTestSession(t, &scriptedProvider{}, store, newFakeClock())
	if !session.HasToken() {
		t.Fatal("expected token loaded at start")
	}
	if err := session.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if session.HasToken() {
		t.Fatal("expected token cleared")
	}
}

func TestTokenExpiryOpaqueToken(t *testing.T) {
	if _, ok := tokenExpiry("not-a-jwt"); ok {
		t.Fatal("expected opaque token to have no expiry")
	}
}
