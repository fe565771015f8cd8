package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
)

// Inbound is one decoded update message.
type Inbound struct {
	Channel string
	Pts     int32
	Count   int32
	Batch   bool
	Payload []byte
}

// Handler receives each decoded update in partition order.
type Handler func(ctx context.Context, u Inbound) error

type Consumer struct {
	reader    *kafka.Reader
	handler   Handler
	malformed atomic.Uint64
}

func NewConsumer(brokers []string, topic, group string, h Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
		handler: h,
	}
}

// Run reads until ctx is cancelled. Malformed messages are a transport
// contract violation: they are counted, logged and skipped, and never reach
// the sequencing layer.
func (c *Consumer) Run(ctx context.Context) error {
	log.Println("[consumer] started")
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		u, err := decodeMessage(m)
		if err != nil {
			c.malformed.Add(1)
			log.Printf("[consumer] dropping malformed message at offset %d: %v", m.Offset, err)
			continue
		}

		if err := c.handler(ctx, u); err != nil {
			log.Printf("[consumer] handler rejected update channel=%s pts=%d: %v", u.Channel, u.Pts, err)
		}
	}
}

// Malformed returns how many messages were dropped at the boundary.
func (c *Consumer) Malformed() uint64 {
	return c.malformed.Load()
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func decodeMessage(m kafka.Message) (Inbound, error) {
	u := Inbound{Payload: m.Value}
	var havePts, haveCount bool

	for _, h := range m.Headers {
		switch h.Key {
		case "channel":
			u.Channel = string(h.Value)
		case "pts":
			v, err := strconv.ParseInt(string(h.Value), 10, 32)
			if err != nil {
				return u, fmt.Errorf("bad pts header: %w", err)
			}
			u.Pts = int32(v)
			havePts = true
		case "count":
			v, err := strconv.ParseInt(string(h.Value), 10, 32)
			if err != nil {
				return u, fmt.Errorf("bad count header: %w", err)
			}
			u.Count = int32(v)
			haveCount = true
		case "kind":
			u.Batch = string(h.Value) == "batch"
		}
	}

	if u.Channel == "" {
		return u, errors.New("missing channel header")
	}
	if !havePts || !haveCount {
		return u, errors.New("missing pts/count headers")
	}
	if u.Count < 0 {
		return u, fmt.Errorf("negative count %d", u.Count)
	}
	return u, nil
}
