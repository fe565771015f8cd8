package channelstate

import (
	"time"

	"relay/domain/ptswaiter"
	"relay/infra/memory"
)

// Update is one applied update envelope kept for the status API.
// Envelopes are pooled; a retired envelope goes through the retire ring
// before returning to the pool.
type Update struct {
	Channel ptswaiter.ChannelID
	Pts     int32
	Batch   bool
	Applied time.Time
	Payload []byte
}

// State is the applied-update view of one channel.
type State struct {
	Channel        ptswaiter.ChannelID
	AppliedCount   uint64
	BatchesApplied uint64
	LastPts        int32
	LastApplyTime  time.Time

	recent []*Update
	next   int
}

// recentUpdates returns the ring contents oldest-first.
func (s *State) recentUpdates() []*Update {
	out := make([]*Update, 0, len(s.recent))
	for i := 0; i < len(s.recent); i++ {
		u := s.recent[(s.next+i)%len(s.recent)]
		if u != nil {
			out = append(out, u)
		}
	}
	return out
}

// ChannelSnapshot is the serializable view of a State.
type ChannelSnapshot struct {
	Channel        string
	AppliedCount   uint64
	BatchesApplied uint64
	LastPts        int32
	RecentPts      []int32
}

// Registry maps channels to their states. All mutation happens on the
// dispatch goroutine; SnapshotAll may be called from readers holding an
// epoch mark.
type Registry struct {
	states    map[ptswaiter.ChannelID]*State
	pool      *memory.Pool[Update]
	ring      *memory.RetireRing
	recentCap int
}

func NewRegistry(recentCap int, pool *memory.Pool[Update], ring *memory.RetireRing) *Registry {
	if recentCap <= 0 {
		recentCap = 16
	}
	return &Registry{
		states:    make(map[ptswaiter.ChannelID]*State),
		pool:      pool,
		ring:      ring,
		recentCap: recentCap,
	}
}

func (r *Registry) get(ch ptswaiter.ChannelID) *State {
	st, ok := r.states[ch]
	if !ok {
		st = &State{
			Channel: ch,
			recent:  make([]*Update, r.recentCap),
		}
		r.states[ch] = st
	}
	return st
}

// Get returns the state for a channel, or nil if it was never applied to.
func (r *Registry) Get(ch ptswaiter.ChannelID) *State {
	return r.states[ch]
}

func (r *Registry) Len() int { return len(r.states) }

// Apply records a single applied update.
func (r *Registry) Apply(ch ptswaiter.ChannelID, pts int32, payload []byte) {
	r.apply(ch, pts, payload, false)
}

// ApplyBatch records an applied update batch.
func (r *Registry) ApplyBatch(ch ptswaiter.ChannelID, pts int32, payload []byte) {
	r.apply(ch, pts, payload, true)
}

func (r *Registry) apply(ch ptswaiter.ChannelID, pts int32, payload []byte, batch bool) {
	st := r.get(ch)
	st.AppliedCount++
	if batch {
		st.BatchesApplied++
	}
	if pts > st.LastPts {
		st.LastPts = pts
	}
	st.LastApplyTime = time.Now()

	u := r.pool.Get()
	u.Channel = ch
	u.Pts = pts
	u.Batch = batch
	u.Applied = st.LastApplyTime
	u.Payload = append(u.Payload[:0], payload...)

	if old := st.recent[st.next]; old != nil {
		// Falls out of the ring; readers may still hold it, so retire
		// instead of pooling directly.
		_ = r.ring.Enqueue(old)
	}
	st.recent[st.next] = u
	st.next = (st.next + 1) % len(st.recent)
}

// SnapshotAll captures every channel's counters. The caller is responsible
// for holding an epoch mark if it runs off the dispatch goroutine.
func (r *Registry) SnapshotAll() []ChannelSnapshot {
	out := make([]ChannelSnapshot, 0, len(r.states))
	for _, st := range r.states {
		snap := ChannelSnapshot{
			Channel:        string(st.Channel),
			AppliedCount:   st.AppliedCount,
			BatchesApplied: st.BatchesApplied,
			LastPts:        st.LastPts,
		}
		for _, u := range st.recentUpdates() {
			snap.RecentPts = append(snap.RecentPts, u.Pts)
		}
		out = append(out, snap)
	}
	return out
}

// Restore rebuilds counters from a snapshot. Recent rings start empty;
// they refill as updates apply.
func (r *Registry) Restore(snaps []ChannelSnapshot) {
	for _, snap := range snaps {
		st := r.get(ptswaiter.ChannelID(snap.Channel))
		st.AppliedCount = snap.AppliedCount
		st.BatchesApplied = snap.BatchesApplied
		st.LastPts = snap.LastPts
	}
}
