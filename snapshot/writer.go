package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"relay/domain/channelstate"
)

const fileName = "snapshot.bin"

type Writer struct {
	Dir string
}

// Write persists the registry view covering every journal record up to
// journalSeq. The file is staged and renamed so a crash mid-write leaves
// the previous snapshot intact.
func (w *Writer) Write(journalSeq uint64, channels []channelstate.ChannelSnapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	s := Snapshot{
		JournalSeq: journalSeq,
		Created:    time.Now(),
		Channels:   channels,
	}

	tmp := filepath.Join(w.Dir, fileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.Dir, fileName))
}
