// Package job runs download batches in a detached background process.
//
// Manager is the interactive side: it writes the task list and the first
// state snapshot, spawns `chromdm job run`, and later reads snapshots back,
// reporting a job whose process has vanished as crashed. Supervisor is the
// background side: it executes the task list one task at a time, rewrites
// the snapshot atomically after each task, and stops between tasks when its
// context is cancelled. The background process never opens the ledger;
// Manager.Reconcile applies finished results afterwards.
package job
