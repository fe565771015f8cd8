// Package channelstate holds the in-memory application state built from
// applied updates: per-channel counters and a ring of the most recently
// applied update envelopes. The registry is owned by the dispatch loop;
// status readers take epoch-guarded snapshots instead of locking.
package channelstate
