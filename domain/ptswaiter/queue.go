package ptswaiter

import "sort"

// pendingEntry is one parked update. arrival breaks pts ties so that two
// entries with equal pts drain in the order they were ingested.
type pendingEntry struct {
	pts     int32
	arrival uint64
	kind    Kind
	payload []byte
}

// pendingQueue keeps parked updates ordered by (pts, arrival).
// A sorted slice is enough here: the queue only grows while a gap is open
// and drains completely as soon as it closes.
type pendingQueue struct {
	entries []pendingEntry
	arrival uint64
}

func (q *pendingQueue) len() int { return len(q.entries) }

// push inserts keeping order. arrival is strictly increasing, so inserting
// after every existing entry with the same pts preserves FIFO on ties.
func (q *pendingQueue) push(pts int32, kind Kind, payload []byte) {
	q.arrival++
	e := pendingEntry{pts: pts, arrival: q.arrival, kind: kind, payload: payload}
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].pts > pts
	})
	q.entries = append(q.entries, pendingEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

func (q *pendingQueue) reset() {
	q.entries = nil
	q.arrival = 0
}
