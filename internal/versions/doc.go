// Package versions keeps an append-only local history of card snapshots for
// rollback. Each card gets a directory named by its ID (or a title slug before
// the card has one) holding one JSON file per save, named by UTC timestamp.
package versions
