package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// ResyncRequest asks the backend for a fresh state snapshot of a channel
// whose gap never closed.
type ResyncRequest struct {
	Channel   string `json:"channel"`
	Confirmed int32  `json:"confirmed"`
	Last      int32  `json:"last"`
	Requested int64  `json:"requested_unix_nano"`
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// PublishResync emits one resync request keyed by channel, so requests for
// the same channel stay ordered on one partition.
func (p *Producer) PublishResync(ctx context.Context, req ResyncRequest) error {
	if req.Requested == 0 {
		req.Requested = time.Now().UnixNano()
	}
	value, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.Channel),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
