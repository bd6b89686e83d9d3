// Package preflight checks that the data directory is usable and the catalog
// portals answer before long runs start.
//
// RunAll is used by "chromdm config validate"; the individual checks are
// exported for callers that need just one of them. Network checks are skipped
// in offline mode.
package preflight
