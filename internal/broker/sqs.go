package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const defaultMessageGroup = "media-receiver"

// SendMessageAPI is satisfied by *sqs.Client.
type SendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends one message per normalized event. FIFO queues get the
// partition key as message group so per-channel order holds downstream.
type SQSPublisher struct {
	api      SendMessageAPI
	queueURL string
	fifo     bool
}

func NewSQSPublisher(api SendMessageAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{api: api, queueURL: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}
}

func (p *SQSPublisher) Publish(ctx context.Context, key string, body []byte) error {
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if p.fifo {
		group := key
		if group == "" {
			group = defaultMessageGroup
		}
		in.MessageGroupId = aws.String(group)
	}
	if _, err := p.api.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (p *SQSPublisher) Close() error { return nil }
