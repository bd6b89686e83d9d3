// Package ledger persists catalog records and their download state in a
// local SQLite database.
//
// Identities, primary records and companion records each have a table keyed
// by canonical name or accession. Upserts refresh catalog metadata without
// touching download state, and MarkDownloaded/MarkFailed move rows between
// pending, downloaded and failed. The read side feeds the stats, validate
// and report commands.
//
// Only one process may hold the ledger open at a time; Open takes an
// advisory flock on ledger.lock and fails with ErrLocked otherwise. Schema
// changes bump schemaVersion in schema.go and require a fresh database.
package ledger
