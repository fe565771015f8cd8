package snapshot

import (
	"time"

	"relay/domain/channelstate"
)

type Snapshot struct {
	JournalSeq uint64
	Created    time.Time
	Channels   []channelstate.ChannelSnapshot
}
