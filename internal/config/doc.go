// Package config loads, normalizes, and validates chromdm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DATA_DIR, FOURDN_ACCESS_ID, MAX_PARALLEL_DOWNLOADS and CACHE_TTL_HOURS.
// The Config type also derives the on-disk layout (downloads, cache, jobs,
// ledger) so every command resolves the same paths.
package config
