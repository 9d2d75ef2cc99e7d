// Copyright 2025 Ceramic Network
//
// Package queue implements the Queue Consumer (C11): pulling
// pre-assembled batch descriptors from a message queue when the anchor
// worker is deployed in queue mode. Grounded on the same
// aws-sdk-go-v2 client-construction shape as pkg/blobstore's S3Store
// (config.LoadDefaultConfig + service client from config), applied here to
// service/sqs instead of service/s3.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// BatchDescriptor is the payload of one queue message, per spec.md §4.6
// step 2's queue-mode batch shape.
type BatchDescriptor struct {
	BatchID    string   `json:"batchId"`
	RequestIDs []string `json:"requestIds"`
}

// Message is one in-flight queue message. At most one Message per worker
// is outstanding at a time; ack makes it permanently processed, nack
// returns it to the queue for redelivery.
type Message struct {
	Data BatchDescriptor

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// Ack marks the message as permanently processed.
func (m *Message) Ack(ctx context.Context) error {
	return m.ack(ctx)
}

// Nack returns the message to the queue for redelivery.
func (m *Message) Nack(ctx context.Context) error {
	return m.nack(ctx)
}

// Consumer receives one batch descriptor at a time.
type Consumer interface {
	// Receive returns at most one in-flight message, waiting up to the
	// consumer's configured visibility/poll timeout. A nil message with a
	// nil error means nothing was available within the wait window.
	Receive(ctx context.Context) (*Message, error)
}

func decodeBatchDescriptor(body string) (BatchDescriptor, error) {
	var d BatchDescriptor
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return BatchDescriptor{}, fmt.Errorf("queue: decode batch descriptor: %w", err)
	}
	return d, nil
}
