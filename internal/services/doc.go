// Package services defines shared utilities consumed by the sync engine and
// its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp card IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures with errors.Is and decide whether to retry.
//   - The Progress value and a non-blocking Report helper used by the auth
//     poller and the transcode client.
//
// Use these helpers when wiring new integration code so error handling and
// observability stay uniform across the engine.
package services
