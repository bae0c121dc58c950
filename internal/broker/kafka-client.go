package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/config"
	"github.com/lucaslui/hems/media-receiver/internal/model"
)

// messageSource is the part of *kafka.Reader the batch loop uses.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaIntake pulls webhook events in batches and commits offsets only when
// the caller says the whole batch is done.
type KafkaIntake struct {
	src        messageSource
	maxRecords int
	window     time.Duration
	logger     *zap.Logger
}

func NewKafkaIntake(cfg *config.Config, logger *zap.Logger) *KafkaIntake {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topic:   cfg.KafkaReaderTopic,

		MinBytes: cfg.KafkaReaderMinBytes,
		MaxBytes: cfg.KafkaReaderMaxBytes,
		MaxWait:  time.Duration(cfg.KafkaReaderMaxWaitMs) * time.Millisecond,

		ReadLagInterval: -1,

		// commit manual, só depois do batch inteiro
		CommitInterval: 0,

		ErrorLogger: kafka.LoggerFunc(logger.Sugar().Named("kafka-reader").Errorf),
	})
	return newKafkaIntake(r, cfg.BatchMaxRecords, time.Duration(cfg.BatchMaxIntervalMs)*time.Millisecond, logger)
}

func newKafkaIntake(src messageSource, maxRecords int, window time.Duration, logger *zap.Logger) *KafkaIntake {
	if maxRecords <= 0 {
		maxRecords = 1
	}
	return &KafkaIntake{src: src, maxRecords: maxRecords, window: window, logger: logger}
}

// NextBatch blocks for the first message, then keeps fetching until the batch
// is full or the window since the first message has elapsed. An error is only
// returned when not even the first message could be fetched.
func (k *KafkaIntake) NextBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := k.src.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	wctx, cancel := context.WithTimeout(ctx, k.window)
	defer cancel()
	for len(batch) < k.maxRecords {
		m, err := k.src.FetchMessage(wctx)
		if err != nil {
			if wctx.Err() == nil {
				// messages already fetched must still be processed before anything later is committed
				k.logger.Warn("kafka fetch interrupted, closing batch early", zap.Int("size", len(batch)), zap.Error(err))
			}
			break
		}
		batch = append(batch, m)
	}
	return batch, nil
}

func (k *KafkaIntake) Commit(ctx context.Context, batch []kafka.Message) error {
	if len(batch) == 0 {
		return nil
	}
	return k.src.CommitMessages(ctx, batch...)
}

func (k *KafkaIntake) Close() error {
	return k.src.Close()
}

// ToRawEvents keys each event by topic/partition/offset for log correlation.
func ToRawEvents(batch []kafka.Message) []model.RawEvent {
	out := make([]model.RawEvent, len(batch))
	for i, m := range batch {
		out[i] = model.RawEvent{MessageID: MessageID(m), Body: m.Value}
	}
	return out
}

func MessageID(m kafka.Message) string {
	return m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)
}
