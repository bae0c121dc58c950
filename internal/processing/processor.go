package processing

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/config"
	"github.com/lucaslui/hems/media-receiver/internal/metrics"
	"github.com/lucaslui/hems/media-receiver/internal/model"
)

// Publisher hands a normalized document to the downstream queue.
type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
}

type Disposition int

const (
	Skipped Disposition = iota
	Forwarded
)

func (d Disposition) String() string {
	if d == Forwarded {
		return "forwarded"
	}
	return "skipped"
}

// Processor routes one inbound event to its provider normalizer and republishes
// the result. Normalizers degrade silently; only publish failures are returned,
// and those must abort the batch.
type Processor struct {
	whapi     *WhapiNormalizer
	meta      *MetaNormalizer
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewProcessor(whapi *WhapiNormalizer, meta *MetaNormalizer, publisher Publisher, logger *zap.Logger, m *metrics.Metrics) *Processor {
	return &Processor{whapi: whapi, meta: meta, publisher: publisher, logger: logger, metrics: m}
}

func (p *Processor) Process(ctx context.Context, ev model.RawEvent) (Disposition, error) {
	start := time.Now()
	defer p.metrics.ObserveEvent(start)

	body := bytes.TrimSpace(ev.Body)
	if len(body) == 0 {
		p.logger.Debug("empty body skipped", zap.String("message_id", ev.MessageID))
		p.metrics.Event(model.ProviderUnknown.String(), metrics.OutcomeSkippedEmpty)
		return Skipped, nil
	}
	if !gjson.ValidBytes(body) {
		p.logger.Info("invalid json skipped",
			zap.String("message_id", ev.MessageID),
			zap.String("preview", config.Truncate(body, 120)),
		)
		p.metrics.Event(model.ProviderUnknown.String(), metrics.OutcomeSkippedJSON)
		return Skipped, nil
	}

	det := Detect(body)
	var res Result
	switch det.Kind {
	case model.ProviderWhapi:
		p.logger.Info("whapi event detected", zap.String("message_id", ev.MessageID), zap.String("channel_id", det.ChannelID))
		res = p.whapi.Normalize(ctx, ev, body, det.ChannelID)
	case model.ProviderMetaOfficial:
		p.logger.Info("meta official event detected", zap.String("message_id", ev.MessageID))
		res = p.meta.Normalize(ctx, ev, body)
	default:
		p.logger.Warn("unknown webhook format ignored",
			zap.String("message_id", ev.MessageID),
			zap.String("preview", config.Truncate(body, 120)),
		)
		p.metrics.Event(model.ProviderUnknown.String(), metrics.OutcomeSkippedFormat)
		return Skipped, nil
	}

	if err := p.publisher.Publish(ctx, res.PartitionKey, res.Doc); err != nil {
		p.metrics.Event(det.Kind.String(), metrics.OutcomeFailed)
		return Skipped, fmt.Errorf("publish %s: %w", ev.MessageID, err)
	}
	p.metrics.Event(det.Kind.String(), metrics.OutcomeForwarded)
	p.logger.Info("event forwarded",
		zap.String("message_id", ev.MessageID),
		zap.String("provider", det.Kind.String()),
		zap.Stringer("result", res),
		zap.Duration("took", time.Since(start)),
	)
	return Forwarded, nil
}

// HandleBatch processes events strictly in order. The first fatal error stops
// the batch and is returned so the delivery mechanism redelivers all of it.
func (p *Processor) HandleBatch(ctx context.Context, events []model.RawEvent) (forwarded int, err error) {
	for _, ev := range events {
		d, err := p.Process(ctx, ev)
		if err != nil {
			p.logger.Error("fatal processing error, batch will be redelivered",
				zap.String("message_id", ev.MessageID),
				zap.Int("batch_size", len(events)),
				zap.Error(err),
			)
			return forwarded, fmt.Errorf("message %s: %w", ev.MessageID, err)
		}
		if d == Forwarded {
			forwarded++
		}
	}
	return forwarded, nil
}
