package broker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lucaslui/hems/media-receiver/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes normalized events synchronously so a failed write
// surfaces to the batch handler before the intake offset is committed.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(cfg *config.Config) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.KafkaWriterTopic,
		Balancer: &kafka.Hash{}, // mantém ordem por canal/conta

		BatchSize:    1,
		BatchTimeout: 5 * time.Millisecond,

		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Compression:  kafka.Snappy,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, body []byte) error {
	msg := kafka.Message{Value: body}
	if key != "" {
		msg.Key = []byte(key)
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
