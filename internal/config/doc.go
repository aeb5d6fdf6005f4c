// Package config loads, normalizes, and validates cardsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the CARDSYNC_CLIENT_ID environment
// fallback. The Config type centralizes every knob the CLI and sync engine
// need: identity provider endpoints, content API budgets, the request cache,
// and log rotation.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
