package snapshot

import (
	"testing"

	"relay/domain/channelstate"
)

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()

	w := &Writer{Dir: dir}
	err := w.Write(42, []channelstate.ChannelSnapshot{
		{Channel: "ch-1", AppliedCount: 10, BatchesApplied: 2, LastPts: 110},
		{Channel: "ch-2", AppliedCount: 3, LastPts: 9},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s == nil {
		t.Fatal("expected a snapshot")
	}
	if s.JournalSeq != 42 || len(s.Channels) != 2 {
		t.Fatalf("snapshot mismatch: %+v", s)
	}
	if s.Channels[0].Channel != "ch-1" || s.Channels[0].LastPts != 110 {
		t.Fatalf("channel fields lost: %+v", s.Channels[0])
	}
}

func TestLoadMissingIsNil(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("missing snapshot must not error: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil snapshot, got %+v", s)
	}
}

func TestWriteReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	_ = w.Write(1, nil)
	_ = w.Write(2, []channelstate.ChannelSnapshot{{Channel: "ch"}})

	s, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.JournalSeq != 2 || len(s.Channels) != 1 {
		t.Fatalf("expected latest snapshot, got %+v", s)
	}
}
