// Package syncengine is the top-level orchestrator: it asks the identity
// session for tokens, runs uploads through the transcoder, assembles cards
// from the results, pushes them to the content API, and records a local
// snapshot of every successful save.
//
// Within one upload the transcode always finishes before assembly and
// assembly before the create or update call, so a failed upload never
// produces a card.
package syncengine
