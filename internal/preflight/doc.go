// Package preflight provides readiness checks for the filesystem paths and
// remote endpoints cardsync depends on.
//
// The CLI "cardsync status" command runs RunAll for the configured
// directories and CheckEndpoint for the content API, and renders the
// results as a table. Commands that write snapshots run RunAll first and
// stop early when a directory is unusable.
package preflight
