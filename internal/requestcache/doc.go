// Package requestcache memoizes idempotent HTTP response bodies under a
// canonical request key.
//
// Keys hash the method, URL, query, and JSON body after sorting mapping keys
// at every depth, so requests that differ only in field order share an entry.
// Each stored body carries an xxhash checksum; a mismatch is logged as an
// integrity error and treated as a miss. Entries live in memory or in a
// SQLite file, and a cold or discarded cache is always correct.
package requestcache
