package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaEmitter publishes events keyed by aggregate id so that every event
// of one period lands on the same partition in order.
type KafkaEmitter struct {
	writer messageWriter
	topic  string
}

func NewKafkaEmitter(brokers []string, topic string) *KafkaEmitter {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaEmitter{writer: writer, topic: topic}
}

func (k *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafkago.Message{
		Topic: k.topic,
		Key:   []byte(event.AggregateID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
		Time: event.OccurredAt,
	})
}

func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}
