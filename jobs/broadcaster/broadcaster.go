// Package broadcaster re-publishes applied updates downstream. It scans the
// outbox for records not yet acknowledged, publishes them, and advances
// their state NEW -> SENT -> ACKED so a crash between publish and ack can
// only duplicate, never lose.
package broadcaster

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"relay/infra/store"
)

// Publisher is the outbound transport. Production uses SaramaPublisher.
type Publisher interface {
	Publish(channel string, pts int32, payload []byte) error
}

type Broadcaster struct {
	outbox    *store.Store
	publisher Publisher
	interval  time.Duration
}

func New(outbox *store.Store, publisher Publisher, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
	}
}

// Run scans and publishes until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	log.Println("[broadcaster] started")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishPending()
		}
	}
}

func (b *Broadcaster) publishPending() {
	_ = b.outbox.ScanPending(func(rec *store.OutboxRecord) error {
		// SENT before publish: a crash in between re-sends, which the
		// downstream must dedupe by (channel, pts).
		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return err
		}

		if err := b.publisher.Publish(rec.Channel, rec.Pts, rec.Payload); err != nil {
			log.Printf("[broadcaster] publish seq=%d channel=%s failed: %v", rec.Seq, rec.Channel, err)
			return nil // stays SENT, retried next tick
		}

		return b.outbox.MarkAcked(rec.Seq)
	})
}

// -------------------- Sarama publisher --------------------

type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaPublisher(brokers []string, topic string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &SaramaPublisher{producer: producer, topic: topic}, nil
}

func (p *SaramaPublisher) Publish(channel string, pts int32, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(channel),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("channel"), Value: []byte(channel)},
			{Key: []byte("pts"), Value: []byte(strconv.FormatInt(int64(pts), 10))},
		},
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
