package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/app"
	"github.com/lucaslui/hems/media-receiver/internal/config"
	"github.com/lucaslui/hems/media-receiver/internal/model"
	"github.com/lucaslui/hems/media-receiver/internal/processing"
)

type batchHandler interface {
	HandleBatch(ctx context.Context, events []model.RawEvent) (int, error)
}

var _ batchHandler = (*processing.Processor)(nil)

func toRawEvents(ev events.SQSEvent) []model.RawEvent {
	out := make([]model.RawEvent, len(ev.Records))
	for i, r := range ev.Records {
		out[i] = model.RawEvent{MessageID: r.MessageId, Body: []byte(r.Body)}
	}
	return out
}

// newHandler returns the SQS entry point. Returning the error fails the whole
// invocation, which makes SQS redeliver every record of the batch.
func newHandler(h batchHandler, logger *zap.Logger) func(context.Context, events.SQSEvent) error {
	return func(ctx context.Context, ev events.SQSEvent) error {
		n, err := h.HandleBatch(ctx, toRawEvents(ev))
		if err != nil {
			return err
		}
		logger.Info("batch done", zap.Int("records", len(ev.Records)), zap.Int("forwarded", n))
		return nil
	}
}

func main() {
	boot, err := config.NewLogger("info")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	cfg, err := config.LoadConfig(boot, false)
	if err != nil {
		boot.Fatal("[boot] configuração inválida", zap.Error(err))
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		logger = boot
	}

	ctx := context.Background()
	awsCfg, err := app.LoadAWS(ctx, cfg)
	if err != nil {
		logger.Fatal("aws config error", zap.Error(err))
	}
	// sem endpoint de métricas no Lambda; o registry só existe para os coletores
	pipeline, err := app.Build(ctx, cfg, awsCfg, prometheus.NewRegistry(), logger)
	if err != nil {
		logger.Fatal("pipeline setup failed", zap.Error(err))
	}

	lambda.Start(newHandler(pipeline.Processor, logger))
}
