package service

import (
	"context"
	"time"

	"relay/infra/kafka"
)

// KafkaResyncer publishes resync requests to the control topic.
type KafkaResyncer struct {
	Producer *kafka.Producer
}

func (k *KafkaResyncer) RequestResync(channel string, confirmed, last int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return k.Producer.PublishResync(ctx, kafka.ResyncRequest{
		Channel:   channel,
		Confirmed: confirmed,
		Last:      last,
	})
}
