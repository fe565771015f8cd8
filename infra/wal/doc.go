// Package wal implements the applied-update journal: a segmented
// write-ahead log appended to after every apply, replayed at boot to
// rebuild channel state above the last snapshot. Frames carry a CRC and a
// journal-assigned sequence; record bodies use the protobuf wire format.
package wal
