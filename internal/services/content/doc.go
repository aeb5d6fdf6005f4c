// Package content is the client for the cloud content API: card create,
// update, fetch, listing, and deletion, plus the audio upload and transcode
// pipeline.
//
// Every request carries the session's bearer token; a 401 forces one token
// refresh and a single retry. Idempotent reads go through the request cache
// and writes invalidate the entries they affect. Transcode polling is never
// cached, backs off exponentially up to a cap, and is bounded by a wall-clock
// budget.
package content
