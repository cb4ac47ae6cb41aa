package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/signalsfoundry/gpsfix/model"
)

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	kafkaWriteTimeout = 500 * time.Millisecond
	kafkaMaxAttempts  = 2
)

// Kafka publishes every fix as a JSON message keyed by the session id, so
// one run's fixes land on one partition in order.
type Kafka struct {
	writer    messageWriter
	topic     string
	sessionID string
}

// NewKafka creates a sink writing to topic on brokers.
func NewKafka(brokers []string, topic, sessionID string) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("%w: kafka sink needs brokers and a topic", model.ErrInvalidInput)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: kafkaWriteTimeout,
		MaxAttempts:  kafkaMaxAttempts,
	}
	return newKafka(w, topic, sessionID), nil
}

func newKafka(w messageWriter, topic, sessionID string) *Kafka {
	return &Kafka{writer: w, topic: topic, sessionID: sessionID}
}

func (k *Kafka) Name() string { return "kafka" }

// Publish writes fix synchronously. Callers bound it through ctx.
func (k *Kafka) Publish(ctx context.Context, fix model.Fix) error {
	value, err := encodeEvent(k.sessionID, fix)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(k.sessionID),
		Value: value,
		Time:  fix.Time,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(fix.Source)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
