// Package engine implements the Update Engine: it realizes one UpdateEvent
// against one dataset's output archive.
//
// Three paths exist:
//
//   - Bulk: export the base query, build a fresh archive, commit it.
//   - Add: export the single entity, build a one-feature archive in the
//     dataset's layer, merge it with a snapshot of the current archive,
//     commit the merge.
//   - Remove: filter the entity out of the current archive, commit the
//     filtered copy.
//
// Every result is built under a temp name and committed with
// archive.Replace, so a reader of the output archive sees either the
// previous version or the new one. Temp artifacts are removed when the
// invocation returns, whatever the outcome.
//
// The engine holds no per-dataset state and performs no locking. Callers
// must not run two invocations for the same dataset concurrently; the
// queue package provides that guarantee.
//
// After a successful commit the engine sends the reload signal
// (best-effort) and hands the outcome to every registered Recorder.
package engine
