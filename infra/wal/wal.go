package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Config struct {
	Dir         string
	SegmentSize int64
}

const defaultSegmentSize = 2 * 1024 * 1024

// WAL is the applied-update journal. Append assigns each record the next
// journal sequence; segments rotate by size.
type WAL struct {
	dir      string
	segSize  int64
	current  *segment
	segIndex int
	lastSeq  uint64
}

func Open(cfg Config) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = defaultSegmentSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	indexes, err := segmentIndexes(cfg.Dir)
	if err != nil {
		return nil, err
	}

	var lastSeq uint64
	segIndex := 0
	if len(indexes) > 0 {
		segIndex = indexes[len(indexes)-1]
		for _, idx := range indexes {
			max, err := maxSeqInSegment(segmentPath(cfg.Dir, idx))
			if err != nil {
				continue
			}
			if max > lastSeq {
				lastSeq = max
			}
		}
	}

	seg, err := openSegment(cfg.Dir, segIndex)
	if err != nil {
		return nil, err
	}

	return &WAL{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: segIndex,
		lastSeq:  lastSeq,
	}, nil
}

// Append journals a record and returns its assigned sequence.
func (w *WAL) Append(r *Record) (uint64, error) {
	w.lastSeq++
	r.Seq = w.lastSeq

	body := r.encodeBody()
	bodyLen := uint32(len(body))

	// Frame: [kind:1][seq:8][len:4][body][crc:4]
	buf := make([]byte, frameHeaderSize+len(body)+4)
	buf[0] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint32(buf[9:13], bodyLen)
	copy(buf[frameHeaderSize:], body)

	crc := CRC32(buf[:frameHeaderSize+len(body)])
	binary.BigEndian.PutUint32(buf[frameHeaderSize+len(body):], crc)

	if err := w.current.append(buf); err != nil {
		return 0, err
	}
	if w.current.offset >= w.segSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	return r.Seq, nil
}

// LastSeq returns the highest sequence appended or found on disk.
func (w *WAL) LastSeq() uint64 {
	return w.lastSeq
}

func (w *WAL) Sync() error {
	return w.current.sync()
}

func (w *WAL) Close() error {
	return w.current.close()
}

func (w *WAL) rotate() error {
	_ = w.current.close()
	w.segIndex++

	seg, err := openSegment(w.dir, w.segIndex)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// TruncateBefore removes whole segments whose records all have seq <= seq.
// The current segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) error {
	indexes, err := segmentIndexes(w.dir)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if idx == w.segIndex {
			continue
		}
		path := segmentPath(w.dir, idx)
		max, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if max <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

func segmentIndexes(dir string) ([]int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if err != nil {
		return nil, err
	}
	indexes := make([]int, 0, len(files))
	for _, path := range files {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(path), "segment-%d.wal", &idx); err == nil {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)
	return indexes, nil
}
