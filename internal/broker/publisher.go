// Package broker moves events in and out of the pipeline: Kafka intake with
// batch commits, and the downstream publisher on Kafka or SQS.
package broker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lucaslui/hems/media-receiver/internal/config"
)

type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
	Close() error
}

// NewPublisher picks the downstream backend named by PUBLISHER_BACKEND.
func NewPublisher(cfg *config.Config, awsCfg aws.Config) (Publisher, error) {
	switch cfg.PublisherBackend {
	case config.PublisherKafka:
		return NewKafkaPublisher(cfg), nil
	case config.PublisherSQS:
		return NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL), nil
	default:
		return nil, fmt.Errorf("publisher backend %q não suportado", cfg.PublisherBackend)
	}
}
