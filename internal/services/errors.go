package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrAuthStart        = errors.New("auth start error")
	ErrAuthExpired      = errors.New("auth expired")
	ErrAuthProvider     = errors.New("auth provider error")
	ErrAuthRequired     = errors.New("authentication required")
	ErrUpload           = errors.New("upload error")
	ErrTranscodeTimeout = errors.New("transcode timeout")
	ErrTranscodeFailed  = errors.New("transcode failed")
	ErrCacheIntegrity   = errors.New("cache integrity error")
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a caller may reasonably repeat the operation that
// produced err. Terminal auth and per-file failures are not retryable; upload,
// transient, and timeout failures are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrAuthStart), errors.Is(err, ErrAuthExpired), errors.Is(err, ErrAuthProvider),
		errors.Is(err, ErrAuthRequired), errors.Is(err, ErrTranscodeFailed),
		errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrUpload), errors.Is(err, ErrTranscodeTimeout), errors.Is(err, ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Hint returns a short operator-facing next step for the error's marker.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrAuthStart), errors.Is(err, ErrConfiguration):
		return "check identity.client_id and endpoint settings in the config file"
	case errors.Is(err, ErrAuthExpired):
		return "run `cardsync auth login` again and approve the code before it expires"
	case errors.Is(err, ErrAuthRequired):
		return "run `cardsync auth login` to link this device"
	case errors.Is(err, ErrAuthProvider):
		return "the identity provider rejected the request; see the description"
	case errors.Is(err, ErrTranscodeTimeout):
		return "retry later or raise content.transcode_timeout"
	case errors.Is(err, ErrTranscodeFailed):
		return "verify the audio file plays locally and re-encode it if needed"
	case errors.Is(err, ErrUpload):
		return "check network connectivity and file permissions, then retry"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
