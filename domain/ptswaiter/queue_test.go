package ptswaiter

import "testing"

func TestQueueOrdersByPtsThenArrival(t *testing.T) {
	var q pendingQueue

	q.push(110, KindUpdate, []byte("c"))
	q.push(105, KindUpdate, []byte("a"))
	q.push(110, KindUpdateBatch, []byte("d"))
	q.push(107, KindUpdate, []byte("b"))

	want := []string{"a", "b", "c", "d"}
	if q.len() != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), q.len())
	}
	for i, p := range want {
		if string(q.entries[i].payload) != p {
			t.Fatalf("entry %d: expected %q, got %q", i, p, q.entries[i].payload)
		}
	}

	// Arrival keys must be unique even across equal pts.
	seen := map[uint64]bool{}
	for _, e := range q.entries {
		if seen[e.arrival] {
			t.Fatalf("duplicate arrival key %d", e.arrival)
		}
		seen[e.arrival] = true
	}
}

func TestQueueReset(t *testing.T) {
	var q pendingQueue
	q.push(1, KindUpdate, nil)
	q.push(2, KindUpdate, nil)

	q.reset()

	if q.len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.len())
	}
	q.push(3, KindUpdate, nil)
	if q.entries[0].arrival != 1 {
		t.Fatalf("arrival counter should restart, got %d", q.entries[0].arrival)
	}
}
