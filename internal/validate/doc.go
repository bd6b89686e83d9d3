// Package validate checks downloaded datasets for structural sanity and
// pairing readiness. Files are checked by signature only: HDF5 magic for
// mcool files, a three-column first line for gzip BED files.
package validate
