package ptswaiter

import (
	"errors"
	"testing"
	"time"
)

type appliedCall struct {
	kind    Kind
	pts     int32
	payload string
}

type fakeApplier struct {
	calls   []appliedCall
	onApply func(kind Kind, pts int32, payload []byte)
}

func (a *fakeApplier) record(kind Kind, pts int32, payload []byte) {
	a.calls = append(a.calls, appliedCall{kind: kind, pts: pts, payload: string(payload)})
	if a.onApply != nil {
		fn := a.onApply
		a.onApply = nil
		fn(kind, pts, payload)
	}
}

func (a *fakeApplier) ApplyUpdate(_ ChannelID, pts int32, payload []byte) {
	a.record(KindUpdate, pts, payload)
}

func (a *fakeApplier) ApplyUpdateBatch(_ ChannelID, pts int32, payload []byte) {
	a.record(KindUpdateBatch, pts, payload)
}

type fakeTimers struct {
	scheduled []time.Duration
}

func (t *fakeTimers) ScheduleOnce(_ ChannelID, delay time.Duration) {
	t.scheduled = append(t.scheduled, delay)
}

func (t *fakeTimers) last() (time.Duration, bool) {
	if len(t.scheduled) == 0 {
		return 0, false
	}
	return t.scheduled[len(t.scheduled)-1], true
}

func newTestWaiter() (*Waiter, *fakeApplier, *fakeTimers) {
	applier := &fakeApplier{}
	timers := &fakeTimers{}
	w := New("ch-1", applier, timers, Config{
		ShortRecheck: time.Millisecond,
		GapTimeout:   time.Second,
	})
	return w, applier, timers
}

func mustIngest(t *testing.T, w *Waiter, pts, count int32, payload string) Result {
	t.Helper()
	res, err := w.Ingest(pts, count, []byte(payload))
	if err != nil {
		t.Fatalf("ingest pts=%d count=%d: %v", pts, count, err)
	}
	return res
}

func TestBaselineFirstUpdate(t *testing.T) {
	w, applier, _ := newTestWaiter()

	if res := mustIngest(t, w, 100, 5, "first"); res != Applied {
		t.Fatalf("expected applied, got %v", res)
	}
	if !w.Inited() {
		t.Fatal("waiter should be inited after first update")
	}
	if w.Confirmed() != 100 || w.Last() != 100 {
		t.Fatalf("baseline not seeded: confirmed=%d last=%d", w.Confirmed(), w.Last())
	}
	if len(applier.calls) != 1 || applier.calls[0].payload != "first" {
		t.Fatalf("unexpected applies: %+v", applier.calls)
	}
}

func TestContiguousAdvance(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "a")

	if res := mustIngest(t, w, 105, 5, "b"); res != Applied {
		t.Fatalf("expected applied, got %v", res)
	}
	if w.Confirmed() != 105 {
		t.Fatalf("watermark should advance to 105, got %d", w.Confirmed())
	}
	if len(applier.calls) != 2 {
		t.Fatalf("expected 2 applies, got %d", len(applier.calls))
	}
}

func TestGapThenFill(t *testing.T) {
	w, applier, timers := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")

	if res := mustIngest(t, w, 110, 5, "late"); res != Buffered {
		t.Fatalf("jump should buffer, got %v", res)
	}
	if w.PendingLen() != 1 {
		t.Fatalf("expected 1 pending entry, got %d", w.PendingLen())
	}
	if d, ok := timers.last(); !ok || d != time.Second {
		t.Fatalf("expected standard gap timer, got %v ok=%v", d, ok)
	}
	if len(applier.calls) != 1 {
		t.Fatalf("buffered update must not apply, got %+v", applier.calls)
	}

	if res := mustIngest(t, w, 105, 5, "fill"); res != Applied {
		t.Fatalf("fill should apply, got %v", res)
	}
	want := []string{"base", "fill", "late"}
	if len(applier.calls) != len(want) {
		t.Fatalf("expected %d applies, got %+v", len(want), applier.calls)
	}
	for i, p := range want {
		if applier.calls[i].payload != p {
			t.Fatalf("apply %d: expected %q, got %q", i, p, applier.calls[i].payload)
		}
	}
	if w.Confirmed() != 110 {
		t.Fatalf("watermark should reach 110, got %d", w.Confirmed())
	}
	if w.PendingLen() != 0 || w.Waiting() != 0 {
		t.Fatalf("queue/reasons should clear: pending=%d reasons=%v", w.PendingLen(), w.Waiting())
	}
	if d, ok := timers.last(); !ok || d >= 0 {
		t.Fatalf("expected timer cancellation, got %v", d)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 110, 5, "base")

	for _, pts := range []int32{90, 109, 110} {
		if res := mustIngest(t, w, pts, 1, "dup"); res != Duplicate {
			t.Fatalf("pts=%d should be duplicate, got %v", pts, res)
		}
	}
	if len(applier.calls) != 1 {
		t.Fatalf("duplicates must never reach the applier: %+v", applier.calls)
	}
	if w.Confirmed() != 110 {
		t.Fatalf("watermark moved on duplicate: %d", w.Confirmed())
	}
}

func TestZeroCountDoesNotBuffer(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")
	mustIngest(t, w, 110, 5, "late")

	// Zero count never contributes to the checksum, so it reports
	// in-sequence even across an open gap; it routes through the queue so
	// the backlog lands in pts order.
	res := mustIngest(t, w, 111, 0, "marker")
	if res != Applied {
		t.Fatalf("zero-count should apply, got %v", res)
	}
	want := []string{"base", "late", "marker"}
	for i, p := range want {
		if applier.calls[i].payload != p {
			t.Fatalf("apply %d: expected %q, got %q", i, p, applier.calls[i].payload)
		}
	}
	if w.Confirmed() != 100 {
		t.Fatalf("gap still open, watermark must stay at 100, got %d", w.Confirmed())
	}
}

func TestReentrantIngestDuringDrain(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")
	mustIngest(t, w, 110, 5, "late")

	// While the fill payload is being applied, the applier feeds another
	// update back in. It must apply in-line, not re-enter the drain.
	applier.onApply = func(_ Kind, pts int32, _ []byte) {
		if pts != 105 {
			return
		}
		if res, err := w.Ingest(500, 1, []byte("nested")); err != nil || res != Applied {
			t.Fatalf("nested ingest: res=%v err=%v", res, err)
		}
	}

	mustIngest(t, w, 105, 5, "fill")

	want := []string{"base", "fill", "nested", "late"}
	if len(applier.calls) != len(want) {
		t.Fatalf("expected %d applies, got %+v", len(want), applier.calls)
	}
	for i, p := range want {
		if applier.calls[i].payload != p {
			t.Fatalf("apply %d: expected %q, got %q", i, p, applier.calls[i].payload)
		}
	}
	if w.PendingLen() != 0 {
		t.Fatalf("queue should be empty after drain, got %d", w.PendingLen())
	}
}

func TestTieBreakIsFIFO(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")

	mustIngest(t, w, 110, 5, "first")
	mustIngest(t, w, 110, 3, "second")
	mustIngest(t, w, 105, 2, "fill")

	want := []string{"base", "fill", "first", "second"}
	for i, p := range want {
		if applier.calls[i].payload != p {
			t.Fatalf("apply %d: expected %q, got %q", i, p, applier.calls[i].payload)
		}
	}
}

func TestBatchBuffersAsOneUnit(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")

	res, err := w.IngestBatch(112, 7, []byte("batch"))
	if err != nil || res != Buffered {
		t.Fatalf("batch should buffer: res=%v err=%v", res, err)
	}
	mustIngest(t, w, 105, 5, "fill")

	last := applier.calls[len(applier.calls)-1]
	if last.kind != KindUpdateBatch || last.payload != "batch" {
		t.Fatalf("batch should drain via ApplyUpdateBatch, got %+v", last)
	}
	if w.Confirmed() != 112 {
		t.Fatalf("watermark should reach 112, got %d", w.Confirmed())
	}
}

func TestNegativeCountRejected(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")

	if _, err := w.Ingest(105, -1, []byte("bad")); !errors.Is(err, ErrNegativeCount) {
		t.Fatalf("expected ErrNegativeCount, got %v", err)
	}
	if _, err := w.Advance(105, -3); !errors.Is(err, ErrNegativeCount) {
		t.Fatalf("expected ErrNegativeCount from Advance, got %v", err)
	}
	if w.Confirmed() != 100 || w.Last() != 100 || len(applier.calls) != 1 {
		t.Fatal("rejected input must not touch state")
	}
}

func TestShortRecheckTier(t *testing.T) {
	w, _, timers := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")

	// 103 with count 5 pushes the accumulated count (105) past the
	// high-water pts (103): the short tier is armed.
	if res := mustIngest(t, w, 103, 5, "dup-race"); res != Buffered {
		t.Fatalf("expected buffered, got %v", res)
	}
	if d, ok := timers.last(); !ok || d != time.Millisecond {
		t.Fatalf("expected short recheck timer, got %v", d)
	}
}

func TestRequestingModeAppliesUnchecked(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")

	w.SetRequesting(true)
	if res := mustIngest(t, w, 500, 5, "raw"); res != Applied {
		t.Fatalf("requesting mode should apply immediately, got %v", res)
	}
	if w.Confirmed() != 100 || w.Last() != 100 {
		t.Fatal("requesting mode must not touch the sequence state")
	}
	if applier.calls[len(applier.calls)-1].payload != "raw" {
		t.Fatalf("payload not applied: %+v", applier.calls)
	}

	w.SetRequesting(false)
	w.Init(500)
	if w.Confirmed() != 500 || !w.Inited() {
		t.Fatalf("re-baseline failed: confirmed=%d", w.Confirmed())
	}
}

func TestAdvanceDrainsBuffered(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")
	mustIngest(t, w, 110, 5, "late")

	// The caller applied the 105 update itself; the advance still closes
	// the gap and releases the backlog.
	res, err := w.Advance(105, 5)
	if err != nil || res != Applied {
		t.Fatalf("advance: res=%v err=%v", res, err)
	}
	last := applier.calls[len(applier.calls)-1]
	if last.payload != "late" {
		t.Fatalf("buffered update should drain, got %+v", applier.calls)
	}
	if w.Confirmed() != 110 {
		t.Fatalf("watermark should reach 110, got %d", w.Confirmed())
	}
}

func TestShortPollHoldsFlush(t *testing.T) {
	w, applier, timers := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")

	w.SetWaitingForShortPoll(50 * time.Millisecond)
	mustIngest(t, w, 110, 5, "late")

	// The fill closes the gap, but the short-poll hold keeps everything
	// parked until it is cancelled.
	if res := mustIngest(t, w, 105, 5, "fill"); res != Buffered {
		t.Fatalf("expected buffered under short-poll hold, got %v", res)
	}
	if len(applier.calls) != 1 {
		t.Fatalf("nothing may apply while a reason remains: %+v", applier.calls)
	}
	if w.Waiting() != WaitShortPoll {
		t.Fatalf("expected only short-poll reason, got %v", w.Waiting())
	}

	w.SetWaitingForShortPoll(-1)

	want := []string{"base", "fill", "late"}
	for i, p := range want {
		if applier.calls[i].payload != p {
			t.Fatalf("apply %d: expected %q, got %q", i, p, applier.calls[i].payload)
		}
	}
	if d, ok := timers.last(); !ok || d >= 0 {
		t.Fatalf("expected timer cancellation after last reason cleared, got %v", d)
	}
}

func TestOnTimerEscalatesOpenGap(t *testing.T) {
	w, _, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")
	mustIngest(t, w, 110, 5, "late")

	if !w.OnTimer() {
		t.Fatal("open gap at timeout should escalate")
	}

	mustIngest(t, w, 105, 5, "fill")
	if w.OnTimer() {
		t.Fatal("late fire after the gap closed must not escalate")
	}
}

func TestOnTimerDrainsClosedGap(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")

	// Advance detects the gap but has nothing to buffer; the in-sequence
	// fill then applies directly, leaving the gap-fill flag armed with an
	// empty queue. The timer re-check clears it without escalating.
	if res, _ := w.Advance(110, 5); res != Buffered {
		t.Fatal("advance across a gap should report buffered")
	}
	mustIngest(t, w, 105, 5, "fill")
	if w.Confirmed() != 110 {
		t.Fatalf("watermark should reach 110, got %d", w.Confirmed())
	}

	if w.OnTimer() {
		t.Fatal("closed gap must not escalate")
	}
	if w.Waiting() != 0 {
		t.Fatalf("reasons should clear, got %v", w.Waiting())
	}
	if len(applier.calls) != 2 {
		t.Fatalf("unexpected applies: %+v", applier.calls)
	}
}

func TestClearPendingKeepsWatermark(t *testing.T) {
	w, _, timers := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")
	mustIngest(t, w, 110, 5, "late")

	w.ClearPending()

	if w.PendingLen() != 0 || w.Waiting() != 0 {
		t.Fatalf("pending state should clear: len=%d reasons=%v", w.PendingLen(), w.Waiting())
	}
	if w.Confirmed() != 100 || w.Last() != 110 {
		t.Fatalf("watermarks must survive: confirmed=%d last=%d", w.Confirmed(), w.Last())
	}
	if d, ok := timers.last(); !ok || d >= 0 {
		t.Fatalf("expected timer cancellation, got %v", d)
	}
}

func TestFlushIfReadyNeedsEmptyReasonSet(t *testing.T) {
	w, applier, _ := newTestWaiter()
	mustIngest(t, w, 100, 5, "base")
	mustIngest(t, w, 110, 5, "late")

	if w.FlushIfReady() {
		t.Fatal("flush must not proceed while a reason remains")
	}
	if len(applier.calls) != 1 {
		t.Fatalf("unexpected applies: %+v", applier.calls)
	}
}
