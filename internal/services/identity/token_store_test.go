package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "tokens.json")
	store := NewFileTokenStore(path)

	token, err := store.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if !token.Empty() {
		t.Fatalf("expected empty token, got %+v", token)
	}

	want := Token{AccessToken: "access", RefreshToken: "refresh", IDToken: "id"}
	if err := store.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}

	got, err := NewFileTokenStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestFileTokenStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := NewFileTokenStore(path)

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear on missing file: %v", err)
	}
	if err := store.Save(Token{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected token file removed, stat err=%v", err)
	}
}

func TestFileTokenStoreClearWaitsForLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := NewFileTokenStore(path)
	if err := store.Save(Token{AccessToken: "a"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	other := flock.New(path + ".lock")
	if err := other.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- store.Clear() }()

	select {
	case err := <-done:
		t.Fatalf("Clear returned while another holder had the lock: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("token file removed under a held lock: %v", err)
	}

	if err := other.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Clear: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Clear did not finish after the lock was released")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected token file removed, stat err=%v", err)
	}
}

func TestFileTokenStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileTokenStore(path).Load(); err == nil {
		t.Fatal("expected decode error for corrupt token file")
	}
}
