package broadcaster

import (
	"errors"
	"testing"
	"time"

	"relay/infra/store"
)

type fakePublisher struct {
	published []int32
	failPts   map[int32]bool
}

func (p *fakePublisher) Publish(_ string, pts int32, _ []byte) error {
	if p.failPts[pts] {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, pts)
	return nil
}

func openTestOutbox(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPublishPendingAcksInOrder(t *testing.T) {
	outbox := openTestOutbox(t)
	for seq := uint64(1); seq <= 3; seq++ {
		if err := outbox.PutNew(seq, "ch-1", int32(100+seq), []byte("p")); err != nil {
			t.Fatal(err)
		}
	}

	pub := &fakePublisher{}
	b := New(outbox, pub, time.Second)
	b.publishPending()

	if len(pub.published) != 3 {
		t.Fatalf("expected 3 publishes, got %v", pub.published)
	}
	for i, pts := range []int32{101, 102, 103} {
		if pub.published[i] != pts {
			t.Fatalf("publish %d: expected pts %d, got %d", i, pts, pub.published[i])
		}
	}

	// Everything acked: nothing pending on the next pass.
	pub.published = nil
	b.publishPending()
	if len(pub.published) != 0 {
		t.Fatalf("acked records must not republish: %v", pub.published)
	}
}

func TestFailedPublishRetriesNextTick(t *testing.T) {
	outbox := openTestOutbox(t)
	_ = outbox.PutNew(1, "ch-1", 101, []byte("p"))
	_ = outbox.PutNew(2, "ch-1", 102, []byte("p"))

	pub := &fakePublisher{failPts: map[int32]bool{101: true}}
	b := New(outbox, pub, time.Second)
	b.publishPending()

	if len(pub.published) != 1 || pub.published[0] != 102 {
		t.Fatalf("expected only 102 published, got %v", pub.published)
	}

	// Broker recovers; the SENT record goes out on the next pass.
	pub.failPts = nil
	b.publishPending()
	if len(pub.published) != 2 || pub.published[1] != 101 {
		t.Fatalf("expected 101 retried, got %v", pub.published)
	}
}
