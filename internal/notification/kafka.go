package notification

import (
	"context"
	"fmt"
	"time"

	"ubipay/pkg/errors"
	"ubipay/pkg/logger"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events to a Kafka topic keyed by event type.
type KafkaNotifier struct {
	writer messageWriter
}

func NewKafkaNotifier(brokers []string, topic string, log logger.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error("Kafka writer error", map[string]interface{}{"detail": fmt.Sprintf(msg, args...)})
		}),
	}
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event string, payload map[string]interface{}) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to publish event")
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
