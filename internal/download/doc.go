// Package download moves catalog files onto local disk.
//
// Engine performs one resumable HTTP transfer: it continues partial files
// with a Range request, restarts when the server ignores the range, and
// treats 416 as already complete. Coordinator runs many transfers through a
// bounded errgroup pool for interactive use and records each outcome through
// an optional Marker. Neither layer retries; running the same tasks again
// resumes where they stopped.
package download
