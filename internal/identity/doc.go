// Package identity maps free-text biosample labels from the 4DN and ENCODE
// catalogs onto canonical cell line identities.
//
// Everything here is a pure table lookup: no I/O, no shared mutable state.
// The alias, indicator, and assembly tables are ordered data so precedence
// (exact before prefix, longer prefix before shorter) is explicit and tested.
package identity
