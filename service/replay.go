package service

import (
	"fmt"
	"log"

	"relay/domain/ptswaiter"
	"relay/infra/wal"
	"relay/snapshot"
)

// Restore rebuilds the registry from the latest snapshot plus a journal
// replay of everything after the snapshot cutoff. Must run before the
// dispatch loop starts.
func (s *UpdateService) Restore(snapDir, journalDir string) error {
	var cutoff uint64

	snap, err := snapshot.Load(snapDir)
	if err != nil {
		return fmt.Errorf("service: load snapshot: %w", err)
	}
	if snap != nil {
		s.registry.Restore(snap.Channels)
		cutoff = snap.JournalSeq
		log.Printf("[service] restored snapshot channels=%d journalSeq=%d", len(snap.Channels), cutoff)
	}

	replayed := 0
	_, err = wal.Replay(journalDir, func(rec *wal.Record) error {
		if rec.Seq <= cutoff {
			return nil
		}
		ch := ptswaiter.ChannelID(rec.Channel)
		if rec.Kind == wal.KindUpdateBatch {
			s.registry.ApplyBatch(ch, rec.Pts, rec.Payload)
		} else {
			s.registry.Apply(ch, rec.Pts, rec.Payload)
		}
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("service: journal replay: %w", err)
	}

	log.Printf("[service] replay complete records=%d channels=%d", replayed, s.registry.Len())
	return nil
}
