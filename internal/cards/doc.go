// Package cards holds the card/chapter/track domain model and the pure
// functions that assemble it from transcode results and caller overrides.
//
// Nothing here performs I/O. Aggregates such as TotalDuration are computed
// from the chapters on every call and never stored.
package cards
