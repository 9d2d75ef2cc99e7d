// Copyright 2025 Ceramic Network

package queue

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSConsumer receives batch descriptors from an AWS SQS queue. Ack maps to
// DeleteMessage; nack maps to ChangeMessageVisibility(0) to force
// immediate redelivery, per spec.md §4.7.
type SQSConsumer struct {
	client            *sqs.Client
	queueURL          string
	visibilityTimeout int32
	waitTimeSeconds   int32
}

// NewSQSConsumer builds an SQSConsumer for the given queue URL using the
// default AWS credential chain.
func NewSQSConsumer(ctx context.Context, queueURL, region string) (*SQSConsumer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("queue: load aws config: %w", err)
	}
	return &SQSConsumer{
		client:            sqs.NewFromConfig(cfg),
		queueURL:          queueURL,
		visibilityTimeout: 60,
		waitTimeSeconds:   20,
	}, nil
}

// Receive long-polls for a single message, waiting up to waitTimeSeconds.
func (c *SQSConsumer) Receive(ctx context.Context) (*Message, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     c.waitTimeSeconds,
		VisibilityTimeout:   c.visibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]
	descriptor, err := decodeBatchDescriptor(*raw.Body)
	if err != nil {
		return nil, err
	}

	receiptHandle := *raw.ReceiptHandle
	return &Message{
		Data: descriptor,
		ack: func(ctx context.Context) error {
			_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &c.queueURL,
				ReceiptHandle: &receiptHandle,
			})
			if err != nil {
				return fmt.Errorf("queue: delete message: %w", err)
			}
			return nil
		},
		nack: func(ctx context.Context) error {
			var zero int32
			_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          &c.queueURL,
				ReceiptHandle:     &receiptHandle,
				VisibilityTimeout: zero,
			})
			if err != nil {
				return fmt.Errorf("queue: change message visibility: %w", err)
			}
			return nil
		},
	}, nil
}
