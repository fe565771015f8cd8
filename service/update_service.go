package service

import (
	"context"
	"log"
	"sync"
	"time"

	"relay/domain/channelstate"
	"relay/domain/ptswaiter"
	"relay/infra/memory"
	"relay/infra/store"
	"relay/infra/wal"
	"relay/snapshot"
)

// ResyncRequester escalates a channel whose gap never closed. The backend
// answers out of band; CompleteResync closes the cycle.
type ResyncRequester interface {
	RequestResync(channel string, confirmed, last int32) error
}

type Config struct {
	ShortRecheck  time.Duration
	GapTimeout    time.Duration
	CommandBuffer int
}

// UpdateService is the only write entry point into the gateway.
// All coordination between domain (ptswaiter, channelstate) and infra
// (wal, store, memory) happens here, on one dispatch goroutine.
type UpdateService struct {
	cfg Config

	registry *channelstate.Registry
	journal  *wal.WAL
	durable  *store.Store
	resync   ResyncRequester

	epoch  *memory.Epoch
	pool   *memory.Pool[channelstate.Update]
	ring   *memory.RetireRing
	reader *snapshot.Reader

	waiters map[ptswaiter.ChannelID]*ptswaiter.Waiter

	commands chan func()
	done     chan struct{}

	timersMu sync.Mutex
	timers   map[ptswaiter.ChannelID]*time.Timer
}

// New wires all dependencies. No globals.
func New(
	cfg Config,
	registry *channelstate.Registry,
	journal *wal.WAL,
	durable *store.Store,
	resync ResyncRequester,
	epoch *memory.Epoch,
	pool *memory.Pool[channelstate.Update],
	ring *memory.RetireRing,
) *UpdateService {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 256
	}
	return &UpdateService{
		cfg:      cfg,
		registry: registry,
		journal:  journal,
		durable:  durable,
		resync:   resync,
		epoch:    epoch,
		pool:     pool,
		ring:     ring,
		reader:   snapshot.NewReader(epoch),
		waiters:  make(map[ptswaiter.ChannelID]*ptswaiter.Waiter),
		commands: make(chan func(), cfg.CommandBuffer),
		done:     make(chan struct{}),
	}
}

// Run processes commands until ctx is cancelled. Every waiter and registry
// mutation happens here; transports and timers only post closures.
func (s *UpdateService) Run(ctx context.Context) {
	log.Println("[service] dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			close(s.done)
			return
		case fn := <-s.commands:
			fn()
		}
	}
}

// post hands fn to the dispatch loop.
func (s *UpdateService) post(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.done:
	}
}

// -------------------- Commands --------------------

// Ingest runs one update through the channel's waiter.
func (s *UpdateService) Ingest(ctx context.Context, channel string, pts, count int32, payload []byte, batch bool) (ptswaiter.Result, error) {
	type reply struct {
		res ptswaiter.Result
		err error
	}
	out := make(chan reply, 1)

	s.post(func() {
		res, err := s.ingest(channel, pts, count, payload, batch)
		out <- reply{res, err}
	})

	select {
	case r := <-out:
		return r.res, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.done:
		return 0, context.Canceled
	}
}

// CompleteResync re-baselines a channel after the backend delivered a fresh
// snapshot at pts, ending requesting mode.
func (s *UpdateService) CompleteResync(ctx context.Context, channel string, pts int32) error {
	out := make(chan error, 1)

	s.post(func() {
		w := s.waiter(ptswaiter.ChannelID(channel))
		w.ClearPending()
		w.Init(pts)
		w.SetRequesting(false)
		out <- s.durable.PutWatermark(channel, pts)
	})

	select {
	case err := <-out:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return context.Canceled
	}
}

// ingest runs on the dispatch goroutine.
func (s *UpdateService) ingest(channel string, pts, count int32, payload []byte, batch bool) (ptswaiter.Result, error) {
	w := s.waiter(ptswaiter.ChannelID(channel))
	before := w.Confirmed()

	var res ptswaiter.Result
	var err error
	if batch {
		res, err = w.IngestBatch(pts, count, payload)
	} else {
		res, err = w.Ingest(pts, count, payload)
	}
	if err != nil {
		return 0, err
	}

	if w.Inited() && w.Confirmed() != before {
		if perr := s.durable.PutWatermark(channel, w.Confirmed()); perr != nil {
			log.Printf("[service] watermark persist channel=%s: %v", channel, perr)
		}
	}
	return res, nil
}

// waiter returns the channel's waiter, creating it with the stored
// watermark as baseline when one exists.
func (s *UpdateService) waiter(ch ptswaiter.ChannelID) *ptswaiter.Waiter {
	if w, ok := s.waiters[ch]; ok {
		return w
	}
	w := ptswaiter.New(ch, (*loopApplier)(s), (*loopTimers)(s), ptswaiter.Config{
		ShortRecheck: s.cfg.ShortRecheck,
		GapTimeout:   s.cfg.GapTimeout,
	})
	if pts, ok, err := s.durable.Watermark(string(ch)); err != nil {
		log.Printf("[service] watermark load channel=%s: %v", ch, err)
	} else if ok {
		w.Init(pts)
	}
	s.waiters[ch] = w
	return w
}

// -------------------- Applier chain --------------------

// loopApplier implements ptswaiter.Applier on the dispatch goroutine.
type loopApplier UpdateService

func (a *loopApplier) ApplyUpdate(ch ptswaiter.ChannelID, pts int32, payload []byte) {
	(*UpdateService)(a).applyRecord(ch, pts, payload, false)
}

func (a *loopApplier) ApplyUpdateBatch(ch ptswaiter.ChannelID, pts int32, payload []byte) {
	(*UpdateService)(a).applyRecord(ch, pts, payload, true)
}

func (s *UpdateService) applyRecord(ch ptswaiter.ChannelID, pts int32, payload []byte, batch bool) {
	if batch {
		s.registry.ApplyBatch(ch, pts, payload)
	} else {
		s.registry.Apply(ch, pts, payload)
	}

	kind := wal.KindUpdate
	if batch {
		kind = wal.KindUpdateBatch
	}
	st := s.registry.Get(ch)
	seq, err := s.journal.Append(&wal.Record{
		Kind:      kind,
		Channel:   string(ch),
		Pts:       pts,
		AppliedAt: st.LastApplyTime.UnixNano(),
		Payload:   payload,
	})
	if err != nil {
		log.Printf("[service] journal append channel=%s pts=%d: %v", ch, pts, err)
		return
	}

	if err := s.durable.PutNew(seq, string(ch), pts, payload); err != nil {
		log.Printf("[service] outbox enqueue seq=%d: %v", seq, err)
	}
}

// -------------------- Timers --------------------

// loopTimers implements ptswaiter.TimerService. Fires post back onto the
// dispatch loop, so timer handling never interleaves with ingestion.
type loopTimers UpdateService

func (t *loopTimers) ScheduleOnce(ch ptswaiter.ChannelID, delay time.Duration) {
	s := (*UpdateService)(t)
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if s.timers == nil {
		s.timers = make(map[ptswaiter.ChannelID]*time.Timer)
	}
	if old, ok := s.timers[ch]; ok {
		old.Stop()
		delete(s.timers, ch)
	}
	if delay < 0 {
		return
	}
	s.timers[ch] = time.AfterFunc(delay, func() {
		s.post(func() { s.handleTimer(ch) })
	})
}

// handleTimer runs on the dispatch goroutine. A late fire after the gap
// resolved is absorbed by the waiter's re-check.
func (s *UpdateService) handleTimer(ch ptswaiter.ChannelID) {
	w, ok := s.waiters[ch]
	if !ok {
		return
	}
	if !w.OnTimer() {
		return
	}

	// Still waiting past the timeout: give up on the gap and ask the
	// backend for a fresh snapshot.
	log.Printf("[service] gap timeout channel=%s confirmed=%d last=%d, requesting resync", ch, w.Confirmed(), w.Last())
	if s.resync != nil {
		if err := s.resync.RequestResync(string(ch), w.Confirmed(), w.Last()); err != nil {
			log.Printf("[service] resync request channel=%s: %v", ch, err)
		}
	}
	w.SetRequesting(true)
	w.ClearPending()
}

// -------------------- Queries --------------------

// ChannelStatus is the externally visible view of one channel.
type ChannelStatus struct {
	Channel        string
	Known          bool
	Inited         bool
	Confirmed      int32
	Last           int32
	Pending        int
	WaitingGapFill bool
	WaitingPoll    bool
	Requesting     bool
	AppliedCount   uint64
	BatchesApplied uint64
	LastPts        int32
}

// Status reports sequencing and apply state for one channel.
func (s *UpdateService) Status(ctx context.Context, channel string) (ChannelStatus, error) {
	out := make(chan ChannelStatus, 1)

	s.post(func() {
		st := ChannelStatus{Channel: channel}
		if w, ok := s.waiters[ptswaiter.ChannelID(channel)]; ok {
			st.Known = true
			st.Inited = w.Inited()
			st.Confirmed = w.Confirmed()
			st.Last = w.Last()
			st.Pending = w.PendingLen()
			st.WaitingGapFill = w.Waiting()&ptswaiter.WaitGapFill != 0
			st.WaitingPoll = w.Waiting()&ptswaiter.WaitShortPoll != 0
			st.Requesting = w.Requesting()
		}
		if cs := s.registry.Get(ptswaiter.ChannelID(channel)); cs != nil {
			st.AppliedCount = cs.AppliedCount
			st.BatchesApplied = cs.BatchesApplied
			st.LastPts = cs.LastPts
		}
		out <- st
	})

	select {
	case st := <-out:
		return st, nil
	case <-ctx.Done():
		return ChannelStatus{}, ctx.Err()
	case <-s.done:
		return ChannelStatus{}, context.Canceled
	}
}

// AdvanceEpoch performs safe envelope reclamation. Called periodically by a
// background job.
func (s *UpdateService) AdvanceEpoch() {
	s.epoch.AdvanceAndReclaim(s.ring, s.pool, s.reader.Epoch())
}
