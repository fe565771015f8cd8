package ptswaiter

import (
	"errors"
	"time"
)

// ChannelID identifies one tracked update sequence (a channel or an account).
type ChannelID string

// Kind distinguishes what a queue entry holds.
type Kind uint8

const (
	KindUpdate Kind = iota
	KindUpdateBatch
)

// Result classifies what happened to an ingested update.
type Result uint8

const (
	// Applied means the payload reached the applier (directly or via a drain).
	Applied Result = iota
	// Buffered means the payload is parked until the gap closes.
	Buffered
	// Duplicate means the update was at or below the watermark and dropped.
	Duplicate
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Buffered:
		return "buffered"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// WaitReason is a bit set of independent reasons the waiter is buffering.
// The pending queue drains only once the set is empty.
type WaitReason uint8

const (
	// WaitGapFill: a sequence gap was detected and the re-check timer is armed.
	WaitGapFill WaitReason = 1 << iota
	// WaitShortPoll: the caller is holding the channel for an external poll.
	WaitShortPoll
)

// ErrNegativeCount reports a transport contract violation: count must be >= 0.
var ErrNegativeCount = errors.New("ptswaiter: negative count")

// Applier mutates application state from an update payload.
// It is NOT assumed idempotent; the waiter's watermark is the only
// duplicate defense. It is also not assumed safe for overlapping calls.
type Applier interface {
	ApplyUpdate(channel ChannelID, pts int32, payload []byte)
	ApplyUpdateBatch(channel ChannelID, pts int32, payload []byte)
}

// TimerService arms the single re-check timer for a channel.
// A negative delay cancels any pending timer; that sentinel is part of the
// contract, not an error. The fired callback must run on the same logical
// thread as ingestion.
type TimerService interface {
	ScheduleOnce(channel ChannelID, delay time.Duration)
}

// Config holds the two re-check tiers. Values are configuration, not logic:
// the gap check only decides which tier to arm.
type Config struct {
	// ShortRecheck is armed when the accumulated count ran ahead of the
	// high-water pts (a duplicate raced the stream; usually resolves itself).
	ShortRecheck time.Duration
	// GapTimeout is armed when the high-water pts ran ahead of the
	// accumulated count (updates are missing). When it fires without the gap
	// closing, the caller should request a full resync.
	GapTimeout time.Duration
}

const (
	DefaultShortRecheck = time.Millisecond
	DefaultGapTimeout   = time.Second
)

func (c Config) withDefaults() Config {
	if c.ShortRecheck <= 0 {
		c.ShortRecheck = DefaultShortRecheck
	}
	if c.GapTimeout <= 0 {
		c.GapTimeout = DefaultGapTimeout
	}
	return c
}

// Waiter tracks one channel's update sequence.
//
// good is the watermark: the highest pts known contiguous and applied.
// last is the highest pts seen. count accumulates the count values of every
// update past the watermark, seeded with the baseline pts, so that
// last == count exactly when the sequence is contiguous.
type Waiter struct {
	channel ChannelID
	applier Applier
	timers  TimerService
	cfg     Config

	good   int32
	last   int32
	count  int32
	inited bool

	reasons    WaitReason
	requesting bool
	applyLevel int

	queue pendingQueue
}

// New returns a waiter for one channel. The baseline is established by the
// first ingested update (trust-on-first-use) or by an explicit Init.
func New(channel ChannelID, applier Applier, timers TimerService, cfg Config) *Waiter {
	return &Waiter{
		channel: channel,
		applier: applier,
		timers:  timers,
		cfg:     cfg.withDefaults(),
	}
}

// Init (re-)baselines the sequence at pts without validation.
// Used on first contact and after a full resync.
func (w *Waiter) Init(pts int32) {
	w.inited = true
	w.count = pts
	w.good = pts
	w.last = pts
}

func (w *Waiter) Inited() bool { return w.inited }

// Confirmed returns the watermark.
func (w *Waiter) Confirmed() int32 { return w.good }

// Last returns the highest pts observed.
func (w *Waiter) Last() int32 { return w.last }

// Waiting returns the current wait-reason set.
func (w *Waiter) Waiting() WaitReason { return w.reasons }

// PendingLen returns the number of buffered entries.
func (w *Waiter) PendingLen() int { return w.queue.len() }

// SetRequesting marks a full resync in flight. While set, every ingested
// update applies immediately without sequence checks; the resync response
// re-baselines via Init.
func (w *Waiter) SetRequesting(v bool) { w.requesting = v }

func (w *Waiter) Requesting() bool { return w.requesting }

// Ingest processes a single sequence-tagged update.
func (w *Waiter) Ingest(pts, count int32, payload []byte) (Result, error) {
	return w.ingest(KindUpdate, pts, count, payload)
}

// IngestBatch processes an update batch whose count covers the whole batch.
// The batch buffers and applies as one indivisible unit.
func (w *Waiter) IngestBatch(pts, count int32, payload []byte) (Result, error) {
	return w.ingest(KindUpdateBatch, pts, count, payload)
}

func (w *Waiter) ingest(kind Kind, pts, count int32, payload []byte) (Result, error) {
	if count < 0 {
		return 0, ErrNegativeCount
	}
	if w.requesting || w.applyLevel > 0 {
		// A resync is in flight, or this call came from inside a drain.
		// Apply in-line; queueing here would either stall the payload until
		// the resync lands or mutate a queue that is being iterated.
		w.apply(kind, pts, payload)
		return Applied, nil
	}
	if pts <= w.good && count > 0 {
		return Duplicate, nil
	}
	if !w.check(pts, count) {
		w.queue.push(pts, kind, payload)
		return Buffered, nil
	}
	if w.reasons&WaitGapFill == 0 || w.queue.len() == 0 {
		w.apply(kind, pts, payload)
		return Applied, nil
	}
	// This update closed the gap. Route it through the queue so it and the
	// buffered entries land in pts order.
	w.queue.push(pts, kind, payload)
	w.FlushBuffered()
	if w.queue.len() > 0 {
		// A short-poll hold is still pending; everything stays parked.
		return Buffered, nil
	}
	return Applied, nil
}

// Advance processes a pts advance whose effect the caller already applied
// (no payload to buffer). On an in-sequence advance any buffered entries
// drain immediately.
func (w *Waiter) Advance(pts, count int32) (Result, error) {
	if count < 0 {
		return 0, ErrNegativeCount
	}
	if w.requesting || w.applyLevel > 0 {
		return Applied, nil
	}
	if pts <= w.good && count > 0 {
		return Duplicate, nil
	}
	if !w.check(pts, count) {
		return Buffered, nil
	}
	w.FlushBuffered()
	return Applied, nil
}

// check runs the gap check and reports whether the update may apply now.
func (w *Waiter) check(pts, count int32) bool {
	if !w.inited {
		w.Init(pts)
		return true
	}
	if pts > w.last {
		w.last = pts
	}
	w.count += count
	if w.last == w.count {
		w.good = w.last
		return true
	}
	if w.last < w.count {
		// More slots accounted for than the high-water pts implies: a
		// duplicate raced the stream. Re-check almost immediately.
		w.SetWaitingForGapFill(w.cfg.ShortRecheck)
	} else {
		// Updates are missing. Wait the full tier before escalating.
		w.SetWaitingForGapFill(w.cfg.GapTimeout)
	}
	return count == 0
}

// SetWaitingForGapFill arms (delay >= 0) or clears (delay < 0) the gap-fill
// wait reason. Clearing re-derives whether the channel timer can be cancelled.
func (w *Waiter) SetWaitingForGapFill(delay time.Duration) {
	w.setWaiting(WaitGapFill, delay)
}

// SetWaitingForShortPoll arms or clears the short-poll wait reason.
func (w *Waiter) SetWaitingForShortPoll(delay time.Duration) {
	w.setWaiting(WaitShortPoll, delay)
}

// setWaiting arms or clears one wait reason. Clearing re-derives whether the
// channel timer can be cancelled and then attempts a flush; the flush only
// proceeds once no reason remains.
func (w *Waiter) setWaiting(reason WaitReason, delay time.Duration) {
	if delay >= 0 {
		w.timers.ScheduleOnce(w.channel, delay)
		w.reasons |= reason
		return
	}
	w.reasons &^= reason
	if w.reasons == 0 {
		w.timers.ScheduleOnce(w.channel, -1)
	}
	w.FlushIfReady()
}

// FlushBuffered clears the gap-fill wait after the gap resolved. The queue
// drains in-line unless a short-poll hold is still pending, in which case it
// drains when that hold clears. No-op unless WaitGapFill is set.
func (w *Waiter) FlushBuffered() {
	if w.reasons&WaitGapFill == 0 {
		return
	}
	w.SetWaitingForGapFill(-1)
}

// FlushIfReady drains the pending queue if no wait reason remains.
// Triggered by the timer callback or by an explicit reason cancellation.
// It reports whether anything was applied.
func (w *Waiter) FlushIfReady() bool {
	if w.reasons != 0 || w.queue.len() == 0 {
		return false
	}
	w.drain()
	return true
}

func (w *Waiter) drain() {
	// applyLevel makes the drain atomic with respect to itself: re-entrant
	// ingests from inside an applier callback apply in-line and never touch
	// the queue being iterated.
	w.applyLevel++
	for i := range w.queue.entries {
		e := &w.queue.entries[i]
		w.apply(e.kind, e.pts, e.payload)
	}
	w.applyLevel--
	w.clearQueue()
}

// OnTimer handles the channel's re-check timer firing. Firing is idempotent:
// the wait state is re-derived rather than assumed. It reports whether the
// caller should escalate to a full resync (the wait did not resolve here).
func (w *Waiter) OnTimer() bool {
	if w.reasons == 0 {
		w.FlushIfReady()
		return false
	}
	if w.reasons&WaitGapFill != 0 && w.last == w.count {
		// The gap closed between arming and firing.
		w.FlushBuffered()
		return w.reasons != 0
	}
	return true
}

// ClearPending drops the buffered queue, every wait reason and the
// re-entrancy counter without touching the watermark. For callers that no
// longer trust buffered state (e.g. after deciding to resync).
func (w *Waiter) ClearPending() {
	w.clearQueue()
	if w.reasons != 0 {
		w.reasons = 0
		w.timers.ScheduleOnce(w.channel, -1)
	}
}

func (w *Waiter) clearQueue() {
	w.queue.reset()
	w.applyLevel = 0
}

func (w *Waiter) apply(kind Kind, pts int32, payload []byte) {
	switch kind {
	case KindUpdateBatch:
		w.applier.ApplyUpdateBatch(w.channel, pts, payload)
	default:
		w.applier.ApplyUpdate(w.channel, pts, payload)
	}
}
