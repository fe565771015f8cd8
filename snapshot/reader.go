package snapshot

import "relay/infra/memory"

// Reader marks the begin/end of a consistent read of the registry.
// Epoching and reclamation happen elsewhere.
type Reader struct {
	epoch *memory.Reader
}

func NewReader(e *memory.Epoch) *Reader {
	return &Reader{epoch: memory.NewReader(e)}
}

// Begin marks the start of a consistent read.
func (r *Reader) Begin() {
	r.epoch.Enter()
}

// End marks the end of a read.
func (r *Reader) End() {
	r.epoch.Exit()
}

// Epoch exposes the underlying reader for reclaimers.
func (r *Reader) Epoch() *memory.Reader {
	return r.epoch
}
