package memory

import "sync/atomic"

const inactive = ^uint64(0)

// Epoch is a monotonically increasing reclamation clock. Each service
// instance owns one; there is no package-level global.
type Epoch struct {
	current atomic.Uint64
}

func (e *Epoch) Now() uint64 {
	return e.current.Load()
}

func (e *Epoch) advance() uint64 {
	return e.current.Add(1)
}

// Reader marks when a status reader entered a read section.
type Reader struct {
	epoch *Epoch
	mark  atomic.Uint64
}

func NewReader(e *Epoch) *Reader {
	r := &Reader{epoch: e}
	r.mark.Store(inactive)
	return r
}

func (r *Reader) Enter() {
	r.mark.Store(r.epoch.Now())
}

func (r *Reader) Exit() {
	r.mark.Store(inactive)
}

func (r *Reader) Mark() uint64 {
	return r.mark.Load()
}

// ReclaimablePool is the only requirement for reclamation.
type ReclaimablePool interface {
	PutAny(any)
}

// AdvanceAndReclaim advances the epoch and returns retired envelopes to the
// pool while no reader holds an older mark.
func (e *Epoch) AdvanceAndReclaim(ring *RetireRing, pool ReclaimablePool, readers ...*Reader) {
	e.advance()
	min := minMark(readers...)

	for {
		obj := ring.Dequeue()
		if obj == nil {
			return
		}
		if min == inactive {
			pool.PutAny(obj)
			continue
		}
		// A reader is still inside; FIFO means newer retirees aren't safe
		// either.
		_ = ring.Enqueue(obj)
		return
	}
}

func minMark(rs ...*Reader) uint64 {
	min := inactive
	for _, r := range rs {
		if r == nil {
			continue
		}
		if v := r.Mark(); v < min {
			min = v
		}
	}
	return min
}
