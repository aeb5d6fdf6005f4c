package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cardsync/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("volume", dir, 1); !result.Passed {
		t.Fatalf("expected pass for 1 byte, got: %s", result.Detail)
	}
	result := CheckFreeSpace("volume", dir, 1<<62)
	if result.Passed {
		t.Fatal("expected failure for an impossible requirement")
	}
	if !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected shortfall in detail, got %q", result.Detail)
	}
}

func TestCheckFreeSpace_MissingPath(t *testing.T) {
	result := CheckFreeSpace("volume", filepath.Join(t.TempDir(), "nope"), 1)
	if result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD probe, got %s", r.Method)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if result := CheckEndpoint(context.Background(), "Content API", srv.URL); !result.Passed {
		t.Fatalf("expected 401 to count as reachable, got: %s", result.Detail)
	}
}

func TestCheckEndpoint_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	result := CheckEndpoint(context.Background(), "Content API", srv.URL)
	if result.Passed {
		t.Fatal("expected failure for 502")
	}
}

func TestCheckEndpoint_MissingURL(t *testing.T) {
	if result := CheckEndpoint(context.Background(), "Content API", " "); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ConfiguredDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCacheBackend("memory"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results without sqlite cache, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_ChecksCacheDirForSQLite(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCacheBackend("sqlite"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := os.RemoveAll(cfg.Paths.CacheDir); err != nil {
		t.Fatal(err)
	}

	failed := Failed(RunAll(cfg))
	if len(failed) != 1 || failed[0].Name != "Cache directory" {
		t.Fatalf("expected only the cache directory to fail, got %+v", failed)
	}
}
