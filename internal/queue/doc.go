// Package queue serializes update events per dataset.
//
// Each dataset owns one Queue. Enqueue never blocks and never rejects on
// size; Run pulls events in FIFO order and hands them to the Updater one
// at a time, so at most one update per dataset is ever in flight. After
// each event the loop idles for the dataset's debounce window before
// pulling the next one. A zero window processes back to back.
//
// A failed or panicking update is logged and the loop moves on to the
// next event.
//
// In coalesce mode a queue holds at most one pending event besides the
// one in flight. A newer event replaces the pending one; when the two
// differ the pending slot becomes a bulk rebuild, which covers both.
package queue
