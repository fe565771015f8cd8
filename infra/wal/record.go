package wal

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type Kind uint8

const (
	KindUpdate Kind = iota
	KindUpdateBatch
)

// Record is one journaled applied update. Seq is assigned by the journal on
// append and is strictly monotonic across segments; Pts is the channel's own
// sequence position and may repeat across channels.
type Record struct {
	Kind      Kind
	Seq       uint64
	Channel   string
	Pts       int32
	Count     int32
	AppliedAt int64
	Payload   []byte
}

// Body field numbers (protobuf wire format).
const (
	fieldChannel   = 1
	fieldPts       = 2
	fieldCount     = 3
	fieldAppliedAt = 4
	fieldPayload   = 5
)

func (r *Record) encodeBody() []byte {
	b := make([]byte, 0, 16+len(r.Channel)+len(r.Payload))
	b = protowire.AppendTag(b, fieldChannel, protowire.BytesType)
	b = protowire.AppendString(b, r.Channel)
	b = protowire.AppendTag(b, fieldPts, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(r.Pts)))
	b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(r.Count)))
	b = protowire.AppendTag(b, fieldAppliedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.AppliedAt))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Payload)
	return b
}

func decodeBody(b []byte, r *Record) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldChannel:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Channel = string(v)
			b = b[n:]
		case fieldPts:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Pts = int32(protowire.DecodeZigZag(v))
			b = b[n:]
		case fieldCount:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Count = int32(protowire.DecodeZigZag(v))
			b = b[n:]
		case fieldAppliedAt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.AppliedAt = int64(v)
			b = b[n:]
		case fieldPayload:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("wal: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
