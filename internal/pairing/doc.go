// Package pairing joins 4DN Hi-C records with ENCODE cCRE annotations by
// canonical cell line identity.
//
// A Pairer lists the primary catalog once, resolves one companion per
// distinct identity through a run-scoped ResolutionCache, and broadcasts
// that companion to every primary record of the identity. Lookup failures
// never abort a run; the identity is reported as non-paired and counted.
package pairing
