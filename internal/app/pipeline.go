// Package app wires the shared clients into a ready Processor. Both runtimes
// build their pipeline here so the wiring is identical.
package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lucaslui/hems/media-receiver/internal/broker"
	"github.com/lucaslui/hems/media-receiver/internal/config"
	"github.com/lucaslui/hems/media-receiver/internal/credentials"
	"github.com/lucaslui/hems/media-receiver/internal/media"
	"github.com/lucaslui/hems/media-receiver/internal/metrics"
	"github.com/lucaslui/hems/media-receiver/internal/processing"
	"github.com/lucaslui/hems/media-receiver/internal/storage"
)

type Pipeline struct {
	Processor *processing.Processor
	Publisher broker.Publisher
	Metrics   *metrics.Metrics
}

func (p *Pipeline) Close() error {
	return p.Publisher.Close()
}

// LoadAWS resolves the default credential chain for the configured region.
func LoadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
}

// Build constructs every long-lived client once. Nothing here holds per-event
// state, so the result can be shared across batches.
func Build(ctx context.Context, cfg *config.Config, awsCfg aws.Config, reg prometheus.Registerer, logger *zap.Logger) (*Pipeline, error) {
	m := metrics.New(reg)

	store, err := storage.NewMinIO(storage.Options{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		UseTLS:        cfg.S3UseTLS,
		Region:        cfg.AWSRegion,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	if cfg.S3EnsureBucket {
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.S3Bucket, err)
		}
	}

	publisher, err := broker.NewPublisher(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	fetcher := media.NewFetcher(media.NewHTTPClient(cfg.MediaTimeout), cfg.MediaUserAgent)
	resolver := media.NewResolver(fetcher, store, cfg.MediaTimeout, logger.Named("media"), m)
	tokens := credentials.NewBroker(lambda.NewFromConfig(awsCfg), cfg.CredentialsFunctionName, logger.Named("credentials"), m)

	proc := processing.NewProcessor(
		processing.NewWhapiNormalizer(resolver, logger.Named("whapi"), m),
		processing.NewMetaNormalizer(tokens, resolver, cfg.MediaEndpointTemplate, logger.Named("meta"), m),
		publisher,
		logger.Named("processor"),
		m,
	)
	return &Pipeline{Processor: proc, Publisher: publisher, Metrics: m}, nil
}
