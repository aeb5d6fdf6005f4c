package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// id3Header makes fixture files sniff as MP3 for anything that inspects
// magic bytes.
var id3Header = []byte("ID3\x04\x00\x00\x00\x00\x00\x00")

// WriteAudio creates a fake audio file called name under dir and returns its
// path. The body is an ID3 header followed by a repeating pattern, padded or
// truncated to size bytes; size <= 0 writes only the header. Distinct sizes
// yield distinct content hashes.
func WriteAudio(t testing.TB, dir, name string, size int64) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	body := append([]byte{}, id3Header...)
	if size > int64(len(body)) {
		body = append(body, bytes.Repeat([]byte{0x42}, int(size)-len(body))...)
	} else if size > 0 {
		body = body[:size]
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
