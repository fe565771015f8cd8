package wal

import (
	"encoding/binary"
	"io"
	"os"
)

// maxSeqInSegment scans one segment's frame headers and returns the highest
// journal sequence found. Used at open (to resume sequencing) and by
// snapshot-based truncation.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var max uint64
	header := make([]byte, frameHeaderSize)

	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return max, nil
			}
			return max, err
		}

		seq := binary.BigEndian.Uint64(header[1:9])
		if seq > max {
			max = seq
		}

		bodyLen := binary.BigEndian.Uint32(header[9:13])
		if _, err := f.Seek(int64(bodyLen+4), io.SeekCurrent); err != nil {
			return max, err
		}
	}
}
