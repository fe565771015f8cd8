// Package ptswaiter implements per-channel ordering of a sequence-tagged
// update stream. Each update carries a pts (the position it reaches in the
// channel's sequence) and a count (how many sequence slots it consumes).
// The waiter applies contiguous updates immediately, buffers out-of-order
// ones, and drains the buffer in sequence order once the gap closes or the
// caller gives up waiting.
//
// The waiter owns no goroutines and no timers. It talks to two injected
// collaborators: an Applier that mutates application state, and a
// TimerService that arms a single re-check timer per channel. All calls
// into a Waiter must come from one logical thread of control.
package ptswaiter
