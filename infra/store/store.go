package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	watermarkPrefix = "watermark/"
	outboxPrefix    = "outbox/"
)

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false,
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// -------------------- Watermarks --------------------

func watermarkKey(channel string) []byte {
	return []byte(watermarkPrefix + channel)
}

// value: [pts:4][updatedAt:8]
func encodeWatermark(pts int32, updatedAt int64) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(pts))
	binary.BigEndian.PutUint64(buf[4:12], uint64(updatedAt))
	return buf
}

func decodeWatermark(b []byte) (int32, error) {
	if len(b) != 12 {
		return 0, errors.New("store: invalid watermark length")
	}
	return int32(binary.BigEndian.Uint32(b[0:4])), nil
}

// PutWatermark persists a channel's confirmed pts.
func (s *Store) PutWatermark(channel string, pts int32) error {
	return s.db.Set(watermarkKey(channel), encodeWatermark(pts, time.Now().UnixNano()), pebble.Sync)
}

// Watermark returns the stored confirmed pts for a channel.
func (s *Store) Watermark(channel string) (pts int32, ok bool, err error) {
	val, closer, err := s.db.Get(watermarkKey(channel))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	defer closer.Close()

	pts, err = decodeWatermark(val)
	if err != nil {
		return 0, false, err
	}
	return pts, true, nil
}

// Watermarks iterates every stored watermark. Used at boot to seed waiters.
func (s *Store) Watermarks(fn func(channel string, pts int32) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(watermarkPrefix),
		UpperBound: []byte(watermarkPrefix + "\xff"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		pts, err := decodeWatermark(iter.Value())
		if err != nil {
			return err
		}
		channel := string(iter.Key()[len(watermarkPrefix):])
		if err := fn(channel, pts); err != nil {
			return err
		}
	}
	return iter.Error()
}

// -------------------- Outbox --------------------

type OutboxState uint8

const (
	StateNew OutboxState = iota
	StateSent
	StateAcked
)

func (s OutboxState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// OutboxRecord is one applied update waiting to be re-published.
type OutboxRecord struct {
	Seq         uint64
	State       OutboxState
	Retries     uint32
	LastAttempt int64
	Channel     string
	Pts         int32
	Payload     []byte
}

func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", outboxPrefix, seq))
}

// value: [state:1][retries:4][lastAttempt:8][chanLen:2][channel][pts:4][payload]
func encodeOutbox(r *OutboxRecord) []byte {
	buf := make([]byte, 1+4+8+2+len(r.Channel)+4+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Channel)))
	off := 15 + copy(buf[15:], r.Channel)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(r.Pts))
	copy(buf[off+4:], r.Payload)
	return buf
}

func decodeOutbox(b []byte, r *OutboxRecord) error {
	if len(b) < 15 {
		return errors.New("store: outbox record too short")
	}
	r.State = OutboxState(b[0])
	r.Retries = binary.BigEndian.Uint32(b[1:5])
	r.LastAttempt = int64(binary.BigEndian.Uint64(b[5:13]))
	chanLen := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < 15+chanLen+4 {
		return errors.New("store: outbox record truncated")
	}
	r.Channel = string(b[15 : 15+chanLen])
	r.Pts = int32(binary.BigEndian.Uint32(b[15+chanLen : 15+chanLen+4]))
	r.Payload = append([]byte(nil), b[15+chanLen+4:]...)
	return nil
}

func parseOutboxKey(key []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(key[len(outboxPrefix):]), "%d", &seq)
	return seq, err
}

// PutNew inserts an applied update into the outbox.
func (s *Store) PutNew(seq uint64, channel string, pts int32, payload []byte) error {
	rec := &OutboxRecord{
		Seq:     seq,
		State:   StateNew,
		Channel: channel,
		Pts:     pts,
		Payload: payload,
	}
	return s.db.Set(outboxKey(seq), encodeOutbox(rec), pebble.Sync)
}

// MarkSent moves a record to SENT and bumps its retry counter.
func (s *Store) MarkSent(seq uint64) error {
	return s.update(seq, func(r *OutboxRecord) {
		r.State = StateSent
		r.Retries++
		r.LastAttempt = time.Now().UnixNano()
	})
}

// MarkAcked moves a record to ACKED after a confirmed publish.
func (s *Store) MarkAcked(seq uint64) error {
	return s.update(seq, func(r *OutboxRecord) {
		r.State = StateAcked
	})
}

func (s *Store) update(seq uint64, mutate func(*OutboxRecord)) error {
	key := outboxKey(seq)
	val, closer, err := s.db.Get(key)
	if err != nil {
		return err
	}
	var rec OutboxRecord
	decErr := decodeOutbox(val, &rec)
	_ = closer.Close()
	if decErr != nil {
		return decErr
	}
	rec.Seq = seq
	mutate(&rec)
	return s.db.Set(key, encodeOutbox(&rec), pebble.Sync)
}

// ScanPending iterates every record not yet ACKED, in sequence order.
func (s *Store) ScanPending(fn func(*OutboxRecord) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(outboxPrefix),
		UpperBound: []byte(outboxPrefix + "\xff"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec OutboxRecord
		if err := decodeOutbox(iter.Value(), &rec); err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		seq, err := parseOutboxKey(iter.Key())
		if err != nil {
			return err
		}
		rec.Seq = seq
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// DeleteAckedUpTo removes ACKED records with seq <= maxSeq.
func (s *Store) DeleteAckedUpTo(maxSeq uint64) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(outboxPrefix),
		UpperBound: []byte(outboxPrefix + "\xff"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseOutboxKey(iter.Key())
		if err != nil {
			return err
		}
		if seq > maxSeq {
			break
		}
		var rec OutboxRecord
		if err := decodeOutbox(iter.Value(), &rec); err != nil {
			return err
		}
		if rec.State != StateAcked {
			continue
		}
		if err := s.db.Delete(append([]byte(nil), iter.Key()...), pebble.Sync); err != nil {
			return err
		}
	}
	return iter.Error()
}
