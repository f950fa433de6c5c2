package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/logger"
)

const flushTimeoutMs = 5000

// KafkaPublisher writes each update as a JSON message keyed by item id, so
// every item's updates stay ordered within one partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	log      *zap.Logger
	done     chan struct{}
}

func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "market-sniper",
		"acks":              "1",
		"linger.ms":         50,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	k := &KafkaPublisher{
		producer: p,
		topic:    topic,
		log:      logger.Log.Named("kafka"),
		done:     make(chan struct{}),
	}
	go k.deliveryReports()
	return k, nil
}

func (k *KafkaPublisher) Publish(_ context.Context, u PriceUpdate) {
	value, err := json.Marshal(u)
	if err != nil {
		k.log.Error("marshal price update", zap.Error(err))
		return
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(u.ItemID),
		Value:          value,
	}, nil)
	if err != nil {
		k.log.Warn("produce price update",
			zap.String("item", u.Name),
			zap.Error(err),
		)
	}
}

func (k *KafkaPublisher) deliveryReports() {
	defer close(k.done)
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				k.log.Warn("delivery failed",
					zap.String("key", string(ev.Key)),
					zap.Error(ev.TopicPartition.Error),
				)
			}
		case kafka.Error:
			k.log.Warn("producer error", zap.Error(ev))
		}
	}
}

// Close flushes buffered messages and releases the producer.
func (k *KafkaPublisher) Close() {
	if left := k.producer.Flush(flushTimeoutMs); left > 0 {
		k.log.Warn("unflushed messages dropped on close", zap.Int("count", left))
	}
	k.producer.Close()
	<-k.done
}
