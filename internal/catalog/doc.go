// Package catalog talks to the two public data portals chromdm pairs:
// the 4DN portal, which lists Hi-C experiment sets and their .mcool contact
// matrices, and the ENCODE portal, which serves candidate cis-regulatory
// element annotations per biosample.
//
// Both clients accept an HTTPDoer so tests can drive them with httptest
// servers. CachedPrimary and CachedCompanion layer JSON files under the
// configured cache directory on top of the live clients.
package catalog
