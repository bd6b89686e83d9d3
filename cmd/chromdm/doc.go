// Command chromdm pairs 4DN Hi-C experiments with ENCODE cCRE annotations
// and downloads the pairs, either interactively or as a detached background
// job.
//
// Usage:
//
//	chromdm fetch [--refresh] [--label TEXT]
//	chromdm paired [filters] [--json]
//	chromdm unpaired [--label TEXT] [--json]
//	chromdm download [filters] [--pending] [--workers N] [--no-resume]
//	chromdm job start|list|status|stop|delete|reconcile
//	chromdm validate [--species TEXT]
//	chromdm stats
//	chromdm report [--one-per-cell] [--out PATH]
//	chromdm config init|show|validate
package main
