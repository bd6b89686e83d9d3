// Package task defines the unit of download work shared by the interactive
// coordinator and background jobs, and builds task lists from pairing
// results or ledger rows.
package task
