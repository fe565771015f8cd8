package service

import (
	"context"
	"log"
	"time"

	"relay/domain/channelstate"
	"relay/snapshot"
)

// StartSnapshotJob snapshots the registry every interval, then trims the
// journal and the acked outbox range covered by the snapshot.
func (s *UpdateService) StartSnapshotJob(ctx context.Context, dir string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	writer := &snapshot.Writer{Dir: dir}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.snapshotOnce(writer)
			}
		}
	}()
}

func (s *UpdateService) snapshotOnce(writer *snapshot.Writer) {
	type capture struct {
		seq      uint64
		channels []channelstate.ChannelSnapshot
	}
	out := make(chan capture, 1)

	// Capture on the dispatch loop under an epoch mark; write to disk off it.
	s.post(func() {
		s.reader.Begin()
		c := capture{
			seq:      s.journal.LastSeq(),
			channels: s.registry.SnapshotAll(),
		}
		s.reader.End()
		out <- c
	})

	var c capture
	select {
	case c = <-out:
	case <-s.done:
		return
	}

	if err := writer.Write(c.seq, c.channels); err != nil {
		log.Printf("[snapshot] write failed seq=%d: %v", c.seq, err)
		return
	}
	if err := s.journal.TruncateBefore(c.seq); err != nil {
		log.Printf("[snapshot] journal truncate seq=%d: %v", c.seq, err)
	}
	if err := s.durable.DeleteAckedUpTo(c.seq); err != nil {
		log.Printf("[snapshot] outbox trim seq=%d: %v", c.seq, err)
	}
	log.Printf("[snapshot] wrote snapshot seq=%d channels=%d", c.seq, len(c.channels))
}

// StartReclaimJob advances the memory epoch every interval so retired
// update envelopes flow back to the pool once readers have moved on.
func (s *UpdateService) StartReclaimJob(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.AdvanceEpoch()
			}
		}
	}()
}
