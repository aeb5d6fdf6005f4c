package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cardsync/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrUpload, "transcode", "put audio", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrUpload) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcode", "put audio", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{services.Wrap(services.ErrUpload, "transcode", "put", "", errors.New("reset")), true},
		{services.Wrap(services.ErrTranscodeTimeout, "transcode", "poll", "", nil), true},
		{services.Wrap(services.ErrTranscodeFailed, "transcode", "poll", "corrupt", nil), false},
		{services.Wrap(services.ErrAuthExpired, "identity", "poll", "", nil), false},
		{services.Wrap(services.ErrAuthProvider, "identity", "poll", "access_denied", nil), false},
		{fmt.Errorf("wrapped: %w", context.Canceled), false},
		{context.DeadlineExceeded, true},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestHintMentionsLoginForAuthErrors(t *testing.T) {
	err := services.Wrap(services.ErrAuthRequired, "content", "get card", "", nil)
	if !strings.Contains(services.Hint(err), "auth login") {
		t.Fatalf("unexpected hint %q", services.Hint(err))
	}
}
