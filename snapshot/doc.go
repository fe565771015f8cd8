// Package snapshot persists a point-in-time view of the channel-state
// registry together with the journal sequence it covers. On boot the
// snapshot restores counters and the journal replays only records above
// its cutoff; after a successful snapshot the journal truncates below it.
//
// Snapshot readers coordinate visibility with the dispatch loop through
// the memory epoch model, not locks.
package snapshot
