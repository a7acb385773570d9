package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const kafkaWriteTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer the forwarder needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// KafkaForwarder copies bus events to a Kafka topic so readers in other processes
// can refresh. Events are keyed by user id to keep per-user ordering.
type KafkaForwarder struct {
	writer MessageWriter
	queue  chan Event
}

func NewKafkaForwarder(writer MessageWriter, buffer int) *KafkaForwarder {
	if buffer <= 0 {
		buffer = 256
	}
	return &KafkaForwarder{writer: writer, queue: make(chan Event, buffer)}
}

// Attach subscribes the forwarder to every topic on sub.
func (f *KafkaForwarder) Attach(sub Subscriber) func() {
	return sub.Subscribe(f.enqueue, TopicCartReloaded, TopicNicheChanged, TopicServiceChanged, TopicOrderTotalUpdated)
}

func (f *KafkaForwarder) enqueue(e Event) {
	select {
	case f.queue <- e:
	default:
		log.Warn().Stringer("topic", e.Topic).Stringer("user_id", e.UserID).Msg("events: kafka forward queue full, dropping event")
	}
}

// Run writes queued events until ctx is cancelled, then closes the writer.
func (f *KafkaForwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return f.writer.Close()
		case e := <-f.queue:
			f.write(ctx, e)
		}
	}
}

func (f *KafkaForwarder) write(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Stringer("topic", e.Topic).Msg("events: failed to marshal event")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:     []byte(e.UserID.String()),
		Value:   payload,
		Headers: []kafka.Header{{Key: "topic", Value: []byte(e.Topic)}},
		Time:    e.At,
	}
	if err := f.writer.WriteMessages(writeCtx, msg); err != nil {
		log.Error().Err(err).Stringer("topic", e.Topic).Stringer("user_id", e.UserID).Msg("events: failed to forward event to kafka")
	}
}
