// Copyright 2025 Ceramic Network

package queue

import "context"

// MemQueue is a channel-backed Consumer for tests. DB mode (queueUrl
// unset) runs with no Consumer at all.
type MemQueue struct {
	ch chan BatchDescriptor
}

// NewMemQueue builds an empty MemQueue with the given buffer size.
func NewMemQueue(buffer int) *MemQueue {
	return &MemQueue{ch: make(chan BatchDescriptor, buffer)}
}

// Push enqueues a batch descriptor for a later Receive.
func (q *MemQueue) Push(d BatchDescriptor) {
	q.ch <- d
}

// Receive returns the next pushed descriptor, or (nil, nil) if ctx is
// cancelled before one arrives.
func (q *MemQueue) Receive(ctx context.Context) (*Message, error) {
	select {
	case d := <-q.ch:
		return &Message{
			Data: d,
			ack:  func(ctx context.Context) error { return nil },
			nack: func(ctx context.Context) error { q.ch <- d; return nil },
		}, nil
	case <-ctx.Done():
		return nil, nil
	}
}
